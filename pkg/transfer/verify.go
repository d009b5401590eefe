package transfer

import (
	"errors"
	"fmt"
)

// VerifyError indicates a written object failed post-copy verification: it
// is missing from the destination or its size differs from the source. A
// chunk with a verify failure is never marked succeeded.
type VerifyError struct {
	Key      string
	Expected int64
	Got      int64
	Missing  bool
}

func (e *VerifyError) Error() string {
	if e.Missing {
		return fmt.Sprintf("verify %s: object missing after copy (expected %d bytes)", e.Key, e.Expected)
	}
	return fmt.Sprintf("verify %s: size mismatch: expected=%d got=%d", e.Key, e.Expected, e.Got)
}

// IsVerifyError reports whether err wraps a post-copy verification failure.
func IsVerifyError(err error) bool {
	var ve *VerifyError
	return errors.As(err, &ve)
}
