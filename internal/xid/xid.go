package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed, collision-resistant identifier suitable as a document ID.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
