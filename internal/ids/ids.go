package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// New returns a random record identifier.
func New() string {
	return uuid.NewString()
}

// Parse validates a client or path supplied identifier and returns its
// canonical lowercase form.
func Parse(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id.String(), nil
}

// Sortable returns a time-ordered identifier for process-scoped names such as
// stream consumers.
func Sortable() string {
	return ksuid.New().String()
}
