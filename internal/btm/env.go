package btm

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joeycumines/toolbt/internal/tst"
)

var (
	// ErrPlacement is returned by Tree.Add for a child its parent cannot hold.
	ErrPlacement = errors.New("btm: invalid node placement")
	// ErrTypeMismatch is the TST error, re-exported for comparisons made by
	// condition leaves.
	ErrTypeMismatch = tst.ErrTypeMismatch
)

// BindingError reports a property reference that does not resolve to a TST
// node. The property is treated as NoSet until a later sync resolves it.
type BindingError struct {
	Tree  string
	Node  NodeID
	Field string
	Path  string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("btm: %s node %d: %s %q does not resolve", e.Tree, e.Node, e.Field, e.Path)
}

// AlertHandle is returned by Callbacks.Alert for later bookkeeping.
type AlertHandle interface {
	Clear()
	SetUserClearable(clearable bool)
}

// DialogResult is the user's answer to a dialog.
type DialogResult uint8

const (
	DialogRejected DialogResult = iota
	DialogAccepted
)

// Callbacks are the exported hooks towards the UI and logs. Calls are made
// from the ticking goroutine and must not block.
type Callbacks interface {
	Alert(typ AlertType, system, device, text string) AlertHandle
	ActionLog(user, action string)
	// Dialog asks the user a question. The channel yields the answer once.
	Dialog(title, text, accept, reject string) <-chan DialogResult
}

// Behaviors starts behaviors on behalf of RunBehavior leaves.
type Behaviors interface {
	// RunAbortSiblings starts the behavior called name owned by container,
	// aborting any behavior already running on the same target.
	RunAbortSiblings(container tst.Handle, name string) error
}

// Env is what a tree needs while ticking. Callbacks and Behaviors are
// optional.
type Env struct {
	Tool      *tst.Tree
	Callbacks Callbacks
	Behaviors Behaviors
	Now       func() time.Time
	Logger    *slog.Logger
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
