package bridge

import (
	"errors"
	"sync"
)

// Status describes the lifecycle position of a token in the ledger.
type Status int

const (
	// StatusAbsent means the token was never published, was already taken,
	// or never existed.
	StatusAbsent Status = iota
	// StatusPending means the request was published and no response has
	// arrived yet.
	StatusPending
	// StatusReady means a response arrived and is waiting to be taken.
	StatusReady
	// StatusFailed means the request never reached the broker.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "absent"
	}
}

// ErrDuplicateToken is returned when a token is registered twice. Token
// uniqueness makes this unreachable in practice; it exists to surface minting
// bugs loudly.
var ErrDuplicateToken = errors.New("chatbridge: token already registered")

type entry struct {
	status  Status
	payload string
}

// Ledger is the pending-request table: the single source of truth for "has
// this request completed?". It is the only mutable state shared between the
// HTTP handlers and the response consumer, so every operation takes the lock;
// TakeIfReady in particular is an atomic check-and-remove so a ready payload
// is handed to at most one caller.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]entry)}
}

// Create registers a token in the pending state.
func (l *Ledger) Create(token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[token]; ok {
		return ErrDuplicateToken
	}
	l.entries[token] = entry{status: StatusPending}
	return nil
}

// Resolve transitions a pending token to ready with the given payload.
// Returns false when the token is unknown or not pending; such responses
// cannot be associated with any caller and are dropped by the consumer.
func (l *Ledger) Resolve(token, payload string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[token]
	if !ok || e.status != StatusPending {
		return false
	}
	l.entries[token] = entry{status: StatusReady, payload: payload}
	return true
}

// Fail marks a pending token as failed so clients can distinguish a request
// that never reached the broker from one that is still processing.
func (l *Ledger) Fail(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[token]
	if !ok || e.status != StatusPending {
		return false
	}
	l.entries[token] = entry{status: StatusFailed}
	return true
}

// TakeIfReady reports the token's status and, for terminal states (ready or
// failed), removes the entry. Removal is destructive: a second take for the
// same token reports absent.
func (l *Ledger) TakeIfReady(token string) (string, Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[token]
	if !ok {
		return "", StatusAbsent
	}
	switch e.status {
	case StatusPending:
		return "", StatusPending
	case StatusFailed:
		delete(l.entries, token)
		return "", StatusFailed
	default:
		delete(l.entries, token)
		return e.payload, StatusReady
	}
}

// Len reports the number of live entries, pending or terminal-but-untaken.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
