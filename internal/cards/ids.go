package cards

import (
	"strings"
	"unicode"

	"github.com/example/dentalsrs/internal/errs"
)

// MaxIDLength bounds user and question ids.
const MaxIDLength = 128

// ValidateID checks an opaque user or question id: non-empty, at most
// MaxIDLength bytes, no whitespace, control characters or '/'.
func ValidateID(kind, id string) error {
	if id == "" {
		return errs.InvalidInput("%s id is empty", kind)
	}
	if len(id) > MaxIDLength {
		return errs.InvalidInput("%s id longer than %d bytes", kind, MaxIDLength)
	}
	if strings.ContainsRune(id, '/') {
		return errs.InvalidInput("%s id %q contains '/'", kind, id)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errs.InvalidInput("%s id %q contains whitespace or control characters", kind, id)
		}
	}
	return nil
}
