//go:build !linux

package backend

// directFlag is a no-op outside Linux: O_DIRECT has no portable equivalent,
// so Open(direct=true) silently degrades to buffered I/O on these platforms.
const directFlag = 0
