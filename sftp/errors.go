package sftp

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// StatusCode is one of the SSH_FX_* codes from draft-ietf-secsh-filexfer-02.
type StatusCode uint32

// Status codes understood by the subsystem. Only the codes spec.md's
// taxonomy (§7) names are produced; SSH_FX_NO_CONNECTION and
// SSH_FX_CONNECTION_LOST never originate from request handling.
const (
	StatusOK              StatusCode = 0
	StatusEOF             StatusCode = 1
	StatusNoSuchFile      StatusCode = 2
	StatusPermissionDenied StatusCode = 3
	StatusFailure         StatusCode = 4
	StatusBadMessage      StatusCode = 5
	StatusOpUnsupported   StatusCode = 8
)

// protoError pairs a status code with the message placed in the STATUS
// packet's error-text field.
type protoError struct {
	code StatusCode
	msg  string
}

func (e *protoError) Error() string { return e.msg }

// newStatusError constructs an error that dispatch() will translate into a
// STATUS packet with exactly this code and message, bypassing the generic
// os.PathError/syscall.Errno translation below.
func newStatusError(code StatusCode, msg string) error {
	return &protoError{code: code, msg: msg}
}

// statusFor maps an arbitrary filesystem/library error into the wire status
// code and message for a STATUS response, per §7's propagation policy: no
// request-level error is ever fatal to the subsystem.
func statusFor(err error) (StatusCode, string) {
	if err == nil {
		return StatusOK, ""
	}
	var pe *protoError
	if errors.As(err, &pe) {
		return pe.code, pe.msg
	}
	cause := errors.Cause(err)
	if cause == os.ErrNotExist || os.IsNotExist(cause) {
		return StatusNoSuchFile, "No such file"
	}
	if cause == os.ErrPermission || os.IsPermission(cause) {
		return StatusPermissionDenied, "Permission denied"
	}
	if cause == syscall.EBADF {
		return StatusFailure, "Invalid handle"
	}
	if pathErr, ok := cause.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			return translateErrno(errno), pathErr.Error()
		}
	}
	if errno, ok := cause.(syscall.Errno); ok {
		return translateErrno(errno), cause.Error()
	}
	return StatusFailure, cause.Error()
}

// translateErrno maps a raw errno to the closest SSH_FX code; anything not
// explicitly named collapses to SSH_FX_FAILURE.
func translateErrno(errno syscall.Errno) StatusCode {
	switch errno {
	case 0:
		return StatusOK
	case syscall.ENOENT:
		return StatusNoSuchFile
	case syscall.EPERM, syscall.EACCES:
		return StatusPermissionDenied
	default:
		return StatusFailure
	}
}
