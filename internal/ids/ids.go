// Package ids generates the two kinds of identifiers used by the bridge:
// correlation tokens handed to clients and message UUIDs for the broker.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Used as the UUID of broker messages.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewToken mints a correlation token: a random 128-bit UUID rendered as a
// string. Tokens are opaque to everything except the ledger and are never
// reused.
func NewToken() string {
	return uuid.NewString()
}
