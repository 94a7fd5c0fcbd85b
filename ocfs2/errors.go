package ocfs2

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the spec §7 error taxonomy. It classifies failures, not Go types, so
// callers can branch on errors.Is(err, ocfs2.ErrNoSpace) regardless of which
// component raised it.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindNoMemory
	KindIO
	KindShortRead
	KindShortWrite
	KindBadDevice
	KindUnexpectedBlockSize
	KindCorruptSuper
	KindCorruptInode
	KindCorruptExtentBlock
	KindCorruptGroupDesc
	KindCorruptChain
	KindCorruptDirectory
	KindInvalidExtentLookup
	KindExtentNotFound
	KindNoSpace
	KindDirFull
	KindCannotInlineData
	KindInvalidStackName
	KindServiceUnavailable
	KindPermissionDenied
	KindResizeInProgress
	KindTunefsInProgress
	KindHeartbeatDev
	KindIterationComplete
	KindInternalFailure
	KindCorruptXattr
	KindXattrNotFound
)

var kindNames = map[Kind]string{
	KindInvalidArgument:     "invalid argument",
	KindNoMemory:            "no memory",
	KindIO:                  "io error",
	KindShortRead:           "short read",
	KindShortWrite:          "short write",
	KindBadDevice:           "bad device",
	KindUnexpectedBlockSize: "unexpected block size",
	KindCorruptSuper:        "corrupt superblock",
	KindCorruptInode:        "corrupt inode",
	KindCorruptExtentBlock:  "corrupt extent block",
	KindCorruptGroupDesc:    "corrupt group descriptor",
	KindCorruptChain:        "corrupt chain",
	KindCorruptDirectory:    "corrupt directory",
	KindInvalidExtentLookup: "invalid extent lookup",
	KindExtentNotFound:      "extent not found",
	KindNoSpace:             "no space",
	KindDirFull:             "directory full",
	KindCannotInlineData:    "cannot inline data",
	KindInvalidStackName:    "invalid cluster stack name",
	KindServiceUnavailable:  "cluster service unavailable",
	KindPermissionDenied:    "permission denied",
	KindResizeInProgress:    "resize in progress",
	KindTunefsInProgress:    "tunefs in progress",
	KindHeartbeatDev:        "heartbeat device feature incompatible",
	KindIterationComplete:   "iteration complete",
	KindInternalFailure:     "internal failure",
	KindCorruptXattr:        "corrupt xattr block",
	KindXattrNotFound:       "xattr not found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown error"
}

// Error is the single error type every ocfs2 entry point returns across a
// component boundary. Kind lets callers classify the failure; Cause carries
// the underlying error, wrapped with a stack trace via pkg/errors so a
// corruption report can be traced back to the read or computation that
// detected it.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ocfs2.NewError(KindNoSpace, "", nil)) match purely on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds an *Error, attaching a stack trace to the cause (if any) so
// it can be recovered later even though the caller only sees the Kind/Context.
func NewError(kind Kind, context string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// sentinels for errors.Is comparisons against a bare Kind, without needing a Context.
var (
	ErrNoSpace            = &Error{Kind: KindNoSpace}
	ErrExtentNotFound     = &Error{Kind: KindExtentNotFound}
	ErrInvalidExtentLookup = &Error{Kind: KindInvalidExtentLookup}
	ErrCorruptChain       = &Error{Kind: KindCorruptChain}
	ErrCorruptExtentBlock = &Error{Kind: KindCorruptExtentBlock}
	ErrCorruptGroupDesc   = &Error{Kind: KindCorruptGroupDesc}
	ErrCorruptDirectory   = &Error{Kind: KindCorruptDirectory}
	ErrIterationComplete  = &Error{Kind: KindIterationComplete}
	ErrCannotInlineData   = &Error{Kind: KindCannotInlineData}
	ErrDirFull            = &Error{Kind: KindDirFull}
	ErrTryAgainOffline    = &Error{Kind: KindServiceUnavailable, Context: "trylock failed, retry offline"}
	ErrHeartbeatDev       = &Error{Kind: KindHeartbeatDev}
	ErrResizeInProgress   = &Error{Kind: KindResizeInProgress}
	ErrTunefsInProgress   = &Error{Kind: KindTunefsInProgress}
	ErrInvalidStackName   = &Error{Kind: KindInvalidStackName}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrXattrNotFound      = &Error{Kind: KindXattrNotFound}
)
