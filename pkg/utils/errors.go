package utils

import (
	"fmt"
)

// MakeError wraps a sentinel error with a formatted detail message, so callers can both
// errors.Is/errors.As against the sentinel and read a human-readable detail on the stderr path.
func MakeError(err error, detailsBody string, args ...any) error {
	return fmt.Errorf("%w: "+detailsBody, append([]any{err}, args...)...)
}
