package core

import (
	"strings"

	"github.com/google/uuid"
)

// PendingIDPrefix tags locally generated message ids that still await a
// server confirmation.
const PendingIDPrefix = "pending:"

// NewPendingID returns a fresh local token for an optimistic message.
func NewPendingID() string {
	return PendingIDPrefix + uuid.New().String()
}

// IsPendingID reports whether id is a local token rather than a server id.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingIDPrefix)
}
