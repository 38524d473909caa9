package misc

import "strings"

// IsNotFoundError reports whether err looks like a missing-record error from
// any of the storage backends.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "no such file")
}
