// Package journal persists emitted ledger events in SQLite so off-chain
// observers can replay the notification history of an agreement.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"nftescrow/core/events"
	"nftescrow/core/types"
)

// Record is one stored event.
type Record struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Agreement  string            `json:"agreement,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Journal appends events to an SQLite table and serves queries over them.
type Journal struct {
	db    *sql.DB
	clock func() time.Time
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps appends strictly ordered.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, clock: time.Now}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            agreement_id TEXT,
            payload TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_agreement_idx ON events(agreement_id, sequence);`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SetClock overrides the time source for deterministic testing.
func (j *Journal) SetClock(clock func() time.Time) {
	if clock != nil {
		j.clock = clock
	}
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores evt and returns its sequence number.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (int64, error) {
	if evt == nil || evt.Type == "" {
		return 0, fmt.Errorf("journal: event type required")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return 0, err
	}
	var agreement sql.NullString
	if id, ok := attrs["id"]; ok && id != "" {
		agreement = sql.NullString{String: id, Valid: true}
	}
	const stmt = `INSERT INTO events(type, agreement_id, payload, created_at) VALUES (?, ?, ?, ?)`
	res, err := j.db.ExecContext(ctx, stmt, evt.Type, agreement, string(payload), j.clock().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Emit implements events.Emitter. Write failures are logged and dropped so a
// journal outage never blocks the ledger.
func (j *Journal) Emit(evt events.Event) {
	payload := events.Payload(evt)
	if payload == nil {
		return
	}
	if _, err := j.Append(context.Background(), payload); err != nil {
		slog.Error("journal append failed", "type", payload.Type, "error", err)
	}
}

// ByAgreement returns the events recorded for the decimal agreement id in
// emission order.
func (j *Journal) ByAgreement(ctx context.Context, id string) ([]Record, error) {
	const query = `SELECT sequence, type, agreement_id, payload, created_at FROM events WHERE agreement_id = ? ORDER BY sequence ASC`
	return j.query(ctx, query, id)
}

// Since returns up to limit events with a sequence greater than after.
func (j *Journal) Since(ctx context.Context, after int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT sequence, type, agreement_id, payload, created_at FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`
	return j.query(ctx, query, after, limit)
}

func (j *Journal) query(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec       Record
			agreement sql.NullString
			payload   string
		)
		if err := rows.Scan(&rec.Sequence, &rec.Type, &agreement, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Agreement = agreement.String
		if err := json.Unmarshal([]byte(payload), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("journal: decode event %d: %w", rec.Sequence, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
