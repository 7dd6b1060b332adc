package journal

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidEntry = errors.New("invalid journal entry")

// Entry is one terminal-side audit record: a submitted sale or purchase, or a
// shift lifecycle event. The journal is a local trail only; the backend keeps
// the authoritative transaction history.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	EntityID  string    `json:"entity_id"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
}
