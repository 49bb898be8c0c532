package pinentry

import (
	"errors"
	"fmt"
	"os"
)

// The helper signals user actions through libgpg-error codes. Which code
// a given pinentry uses is convention rather than protocol law; these are
// the ones the stock GnuPG pinentries emit, on the low 16 bits of the
// full 32 bit code.
const (
	gpgErrTimeout   = 62
	gpgErrCancelled = 99
)

var (
	// ErrCancelled is reported when the user dismissed the dialog.
	ErrCancelled = errors.New("pinentry: operation cancelled")
	// ErrTimeout is reported when the dialog expired before the user responded.
	ErrTimeout = errors.New("pinentry: operation timed out")
	// ErrNoBinary means no pinentry program could be found or executed.
	ErrNoBinary = errors.New("pinentry: no usable pinentry binary")
	// ErrHandshake means the helper did not greet us with OK after spawning.
	ErrHandshake = errors.New("pinentry: handshake failed")
)

// HelperError is a protocol-level ERR response from the helper, with the
// helper's code and description preserved verbatim. Descriptions are
// helper-defined free text and never contain entered secrets.
type HelperError struct {
	Code        uint32
	Description string
}

func (e *HelperError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("pinentry: helper error %d", e.Code)
	}
	return fmt.Sprintf("pinentry: helper error %d: %s", e.Code, e.Description)
}

// Is maps the reserved gpg codes onto the sentinel errors, so
// errors.Is(err, ErrCancelled) matches a helper error carrying the
// cancellation code regardless of the error source bits.
func (e *HelperError) Is(target error) bool {
	switch target {
	case ErrCancelled:
		return uint16(e.Code) == gpgErrCancelled
	case ErrTimeout:
		return uint16(e.Code) == gpgErrTimeout
	}
	return false
}

// IsCancelled reports whether err means the user cancelled the dialog.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTimeout reports whether err means the dialog timed out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// TerminatedError means the helper process exited or was killed
// mid-session. The caller must start a fresh invocation; nothing is
// retried on its behalf.
type TerminatedError struct {
	State *os.ProcessState
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("pinentry: helper terminated unexpectedly: %v", e.State)
}
