// Package eventlog records alerts and user/engine actions in SQLite and
// mirrors them to the process logger. A Store is the callback sink behavior
// trees report through.
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeycumines/toolbt/internal/btm"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var (
	// ErrNotClearable is returned when a user clears an alert that is not
	// user clearable.
	ErrNotClearable = errors.New("eventlog: alert is not user clearable")
	// ErrUnknownAlert is returned for an alert id that was never raised.
	ErrUnknownAlert = errors.New("eventlog: unknown alert")
)

// DialogFunc answers a dialog. The channel yields one result, or is closed
// to reject.
type DialogFunc func(title, text, accept, reject string) <-chan btm.DialogResult

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file, "" for an in-memory database.
	Path   string
	Logger *slog.Logger
	Now    func() time.Time
	// Dialog answers Dialog leaves. Without it every dialog is rejected.
	Dialog DialogFunc
}

// Store is the alert and action log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	dialog DialogFunc
}

var _ btm.Callbacks = (*Store)(nil)

// Open opens or creates the store.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	if cfg.Path == "" {
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog: create schema: %w", err)
	}
	return &Store{db: db, logger: cfg.Logger, now: cfg.Now, dialog: cfg.Dialog}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) timestamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

func alertLevel(typ btm.AlertType) slog.Level {
	switch typ {
	case btm.AlertWarning:
		return slog.LevelWarn
	case btm.AlertAlarm:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Alert records a raised alert. The returned handle clears it or marks it
// user clearable.
func (s *Store) Alert(typ btm.AlertType, system, device, text string) btm.AlertHandle {
	id := uuid.New()
	s.logger.Log(context.Background(), alertLevel(typ), "[Alert] "+text,
		"alert", id, "type", typ, "system", system, "device", device)
	_, err := s.db.Exec(
		`INSERT INTO alerts (id, type, system, device, text, raised_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), typ.String(), system, device, text, s.timestamp(),
	)
	if err != nil {
		s.logger.Error("[EventLog] cannot record alert", "alert", id, "error", err)
	}
	return &alertHandle{s: s, id: id}
}

type alertHandle struct {
	s  *Store
	id uuid.UUID
}

func (h *alertHandle) Clear() {
	if err := h.s.clear(context.Background(), h.id); err != nil {
		h.s.logger.Error("[EventLog] cannot clear alert", "alert", h.id, "error", err)
	}
}

func (h *alertHandle) SetUserClearable(v bool) {
	if _, err := h.s.db.Exec(`UPDATE alerts SET user_clearable = ? WHERE id = ?`, v, h.id.String()); err != nil {
		h.s.logger.Error("[EventLog] cannot update alert", "alert", h.id, "error", err)
	}
}

func (s *Store) clear(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET cleared_at = ? WHERE id = ? AND cleared_at IS NULL`, s.timestamp(), id.String())
	if err == nil {
		s.logger.Debug("[Alert] cleared", "alert", id)
	}
	return err
}

// ClearAlert clears an active alert on behalf of user. Only user clearable
// alerts may be cleared this way.
func (s *Store) ClearAlert(ctx context.Context, user string, id uuid.UUID) error {
	var clearable bool
	err := s.db.QueryRowContext(ctx, `SELECT user_clearable FROM alerts WHERE id = ?`, id.String()).Scan(&clearable)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownAlert, id)
	}
	if err != nil {
		return fmt.Errorf("eventlog: clear alert: %w", err)
	}
	if !clearable {
		return fmt.Errorf("%w: %s", ErrNotClearable, id)
	}
	if err := s.clear(ctx, id); err != nil {
		return fmt.Errorf("eventlog: clear alert: %w", err)
	}
	s.ActionLog(user, "cleared alert "+id.String())
	return nil
}

// ActionLog records one action.
func (s *Store) ActionLog(user, action string) {
	s.logger.Info("[Action] "+action, "user", user)
	if _, err := s.db.Exec(`INSERT INTO actions (at, user_name, action) VALUES (?, ?, ?)`, s.timestamp(), user, action); err != nil {
		s.logger.Error("[EventLog] cannot record action", "error", err)
	}
}

// Dialog forwards to the configured DialogFunc, rejecting when there is
// none.
func (s *Store) Dialog(title, text, accept, reject string) <-chan btm.DialogResult {
	s.ActionLog("engine", "dialog: "+title)
	if s.dialog != nil {
		return s.dialog(title, text, accept, reject)
	}
	s.logger.Warn("[EventLog] no dialog handler, rejecting", "title", title)
	ch := make(chan btm.DialogResult)
	close(ch)
	return ch
}
