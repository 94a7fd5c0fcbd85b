//go:build linux

package backend

import "syscall"

// directFlag is OR'd into the open mode to request O_DIRECT. Only Linux
// actually honors it; every other platform falls back to buffered I/O and
// relies on the block cache's own write-through coherency guarantee.
const directFlag = syscall.O_DIRECT
