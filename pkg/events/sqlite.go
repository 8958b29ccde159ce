package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLog persists call events to an append-only local table. Per-call
// ordering follows insertion order via the rowid.
type SQLiteLog struct {
	db *sql.DB
}

func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) Close() error { return l.db.Close() }

var (
	_ Log    = (*SQLiteLog)(nil)
	_ Reader = (*SQLiteLog)(nil)
)

func (l *SQLiteLog) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_events_call ON call_events(call_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLiteLog) Append(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	created := rec.Created()
	if created.IsZero() {
		created = time.Now()
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO call_events (call_id, kind, created_at, payload_json) VALUES (?, ?, ?, ?)`,
		rec.Call(), string(rec.Kind()), created, string(payload))
	return err
}

// StoredEvent is one row read back from the log.
type StoredEvent struct {
	ID        int64
	CallID    string
	Kind      Kind
	CreatedAt time.Time
	Payload   string
}

// EventsForCall returns a call's events in append order.
func (l *SQLiteLog) EventsForCall(ctx context.Context, callID string) ([]StoredEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, call_id, kind, created_at, payload_json FROM call_events WHERE call_id = ? ORDER BY id`,
		callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.CallID, &kind, &ev.CreatedAt, &ev.Payload); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}
