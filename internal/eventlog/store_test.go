package eventlog

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/toolbt/internal/btm"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func open(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = (&clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}).Now
	}
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AlertLifecycle(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	s := open(t, Config{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	ctx := context.Background()

	warn := s.Alert(btm.AlertWarning, "Chamber", "Pump", "pressure low")
	alarm := s.Alert(btm.AlertAlarm, "Chamber", "", "overpressure")

	all, err := s.Alerts(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, btm.AlertWarning, all[0].Type)
	require.Equal(t, "Pump", all[0].Device)
	require.Equal(t, "pressure low", all[0].Text)
	require.True(t, all[0].Active())
	require.False(t, all[0].UserClearable)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC), all[0].RaisedAt)

	warn.Clear()
	warn.Clear()
	active, err := s.Alerts(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "overpressure", active[0].Text)

	require.ErrorIs(t, s.ClearAlert(ctx, "operator", active[0].ID), ErrNotClearable)
	alarm.SetUserClearable(true)
	require.NoError(t, s.ClearAlert(ctx, "operator", active[0].ID))
	active, err = s.Alerts(ctx, true)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err = s.Alerts(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[1].ClearedAt)

	require.ErrorIs(t, s.ClearAlert(ctx, "operator", uuid.New()), ErrUnknownAlert)

	out := logs.String()
	assert.Contains(t, out, `level=WARN msg="[Alert] pressure low"`)
	assert.Contains(t, out, `level=ERROR msg="[Alert] overpressure"`)
}

func TestStore_Actions(t *testing.T) {
	t.Parallel()
	s := open(t, Config{})
	ctx := context.Background()
	for _, a := range []string{"one", "two", "three"} {
		s.ActionLog("operator", a)
	}
	all, err := s.Actions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "one", all[0].Action)
	require.Equal(t, "operator", all[0].User)

	last, err := s.Actions(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"two", "three"}, []string{last[0].Action, last[1].Action})
}

func TestStore_DialogWithoutHandlerRejects(t *testing.T) {
	t.Parallel()
	s := open(t, Config{})
	r, ok := <-s.Dialog("Vent?", "vent the chamber", "Yes", "No")
	require.False(t, ok)
	require.Equal(t, btm.DialogRejected, r)

	actions, err := s.Actions(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, "dialog: Vent?", actions[0].Action)
}

func TestStore_DialogHandler(t *testing.T) {
	t.Parallel()
	var asked []string
	s := open(t, Config{Dialog: func(title, text, accept, reject string) <-chan btm.DialogResult {
		asked = append(asked, title, accept)
		ch := make(chan btm.DialogResult, 1)
		ch <- btm.DialogAccepted
		return ch
	}})
	require.Equal(t, btm.DialogAccepted, <-s.Dialog("Vent?", "", "Yes", "No"))
	require.Equal(t, []string{"Vent?", "Yes"}, asked)
}

func TestStore_FilePersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	s.Alert(btm.AlertMessage, "", "", "hello")
	s.ActionLog("engine", "started")
	require.NoError(t, s.Close())

	s = open(t, Config{Path: path})
	alerts, err := s.Alerts(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, btm.AlertMessage, alerts[0].Type)
	actions, err := s.Actions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
}
