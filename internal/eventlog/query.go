package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joeycumines/toolbt/internal/btm"
)

// AlertRecord is one stored alert.
type AlertRecord struct {
	ID            uuid.UUID     `json:"id"`
	Type          btm.AlertType `json:"type"`
	System        string        `json:"system"`
	Device        string        `json:"device"`
	Text          string        `json:"text"`
	RaisedAt      time.Time     `json:"raised_at"`
	ClearedAt     *time.Time    `json:"cleared_at,omitempty"`
	UserClearable bool          `json:"user_clearable"`
}

// Active reports whether the alert has not been cleared.
func (a AlertRecord) Active() bool { return a.ClearedAt == nil }

// ActionRecord is one stored action.
type ActionRecord struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	User   string    `json:"user"`
	Action string    `json:"action"`
}

// Alerts lists alerts in the order raised, only uncleared ones if
// activeOnly.
func (s *Store) Alerts(ctx context.Context, activeOnly bool) ([]AlertRecord, error) {
	query := `SELECT id, type, system, device, text, raised_at, cleared_at, user_clearable FROM alerts`
	if activeOnly {
		query += ` WHERE cleared_at IS NULL`
	}
	query += ` ORDER BY raised_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var (
			a                 AlertRecord
			id, typ, raisedAt string
			clearedAt         sql.NullString
		)
		if err := rows.Scan(&id, &typ, &a.System, &a.Device, &a.Text, &raisedAt, &clearedAt, &a.UserClearable); err != nil {
			return nil, fmt.Errorf("eventlog: scan alert: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("eventlog: alert id: %w", err)
		}
		if err := a.Type.UnmarshalText([]byte(typ)); err != nil {
			return nil, err
		}
		if a.RaisedAt, err = time.Parse(time.RFC3339Nano, raisedAt); err != nil {
			return nil, fmt.Errorf("eventlog: alert time: %w", err)
		}
		if clearedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, clearedAt.String)
			if err != nil {
				return nil, fmt.Errorf("eventlog: alert time: %w", err)
			}
			a.ClearedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Actions lists the most recent limit actions, oldest first. A
// non-positive limit lists all.
func (s *Store) Actions(ctx context.Context, limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, user_name, action FROM (SELECT * FROM actions ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var (
			a  ActionRecord
			at string
		)
		if err := rows.Scan(&a.ID, &at, &a.User, &a.Action); err != nil {
			return nil, fmt.Errorf("eventlog: scan action: %w", err)
		}
		if a.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("eventlog: action time: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
