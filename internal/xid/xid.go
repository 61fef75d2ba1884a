package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed opaque identifier, e.g. "prod-9f8c...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
