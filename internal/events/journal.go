// Package events records board transitions in a per-workspace SQLite
// journal, inspectable with "bl log tail".
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"boardline/internal/db"
)

type Payload map[string]any

// Journal is an append-only log of board activity.
type Journal struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry is one journal row.
type Entry struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	TicketID string `json:"ticket_id,omitempty"`
	Actor    string `json:"actor"`
	Payload  string `json:"payload_json"`
}

// Open opens (and if necessary creates) the workspace journal.
func Open(workspace string) (*Journal, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		type TEXT NOT NULL,
		ticket_id TEXT,
		actor TEXT NOT NULL,
		payload_json TEXT NOT NULL
	)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init journal: %w", err)
	}
	return &Journal{DB: conn}, nil
}

func (j *Journal) Close() error {
	return j.DB.Close()
}

func (j *Journal) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Append writes one entry.
func (j *Journal) Append(ctx context.Context, evtType, ticketID, actor string, payload Payload) error {
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	ts := j.now().UTC().Format(time.RFC3339)
	_, err = j.DB.ExecContext(ctx, `INSERT INTO events(ts,type,ticket_id,actor,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(ticketID), actor, string(data))
	return err
}

// Tail returns the most recent n entries, newest first, optionally filtered
// by event type and ticket id.
func (j *Journal) Tail(ctx context.Context, n int, evtType, ticketID string) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,COALESCE(ticket_id,''),actor,payload_json FROM events`
	var conds []string
	var args []any
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if ticketID != "" {
		conds = append(conds, "ticket_id=?")
		args = append(args, ticketID)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	rows, err := j.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TicketID, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// After returns up to limit entries with id greater than afterID, oldest
// first. Used by the webhook dispatcher to walk the journal with a cursor.
func (j *Journal) After(ctx context.Context, limit int, afterID int64) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(ticket_id,''),actor,payload_json FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TicketID, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestID returns the id of the newest entry, or zero on an empty journal.
func (j *Journal) LatestID(ctx context.Context) (int64, error) {
	var id int64
	err := j.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
