package memory

import (
	"context"
	"sync"
	"time"

	"github.com/yanasoup/pos-sub000/internal/journal"
	"github.com/yanasoup/pos-sub000/internal/xid"
)

// Recorder keeps the journal in process memory, used when no DATABASE_URL is
// configured and in tests.
type Recorder struct {
	mu      sync.RWMutex
	entries []journal.Entry
}

func New() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(_ context.Context, entry journal.Entry) error {
	if entry.Action == "" {
		return journal.ErrInvalidEntry
	}
	if entry.ID == "" {
		entry.ID = xid.New("jrn")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) List(_ context.Context, limit int) ([]journal.Entry, error) {
	if limit < 1 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Newest first.
	result := make([]journal.Entry, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, r.entries[i])
	}
	return result, nil
}
