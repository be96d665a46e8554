package ledger

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidRunID is returned for run ids that cannot be used as a folder
// name or object key prefix.
var ErrInvalidRunID = errors.New("invalid run id")

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateRunID accepts 1 to 128 letters, digits, '-' or '_'.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("%w %q: use 1-128 letters, digits, '-' or '_'", ErrInvalidRunID, id)
	}
	return nil
}
