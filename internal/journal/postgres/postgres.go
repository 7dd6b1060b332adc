package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/yanasoup/pos-sub000/internal/journal"
	"github.com/yanasoup/pos-sub000/internal/xid"
)

// Recorder persists the terminal journal in Postgres so shift and submission
// history survives terminal restarts.
type Recorder struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Recorder, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Recorder{db: db}, nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS terminal_journal (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			action     TEXT NOT NULL,
			entity_id  TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

func (r *Recorder) Record(ctx context.Context, entry journal.Entry) error {
	if entry.Action == "" {
		return journal.ErrInvalidEntry
	}
	if entry.ID == "" {
		entry.ID = xid.New("jrn")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terminal_journal (id, session_id, action, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.SessionID, entry.Action, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (r *Recorder) List(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, action, entity_id, detail, created_at
		FROM terminal_journal
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]journal.Entry, 0, limit)
	for rows.Next() {
		var entry journal.Entry
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Action, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
