// Package orchestrator owns a tool state tree together with the runners
// that tick its behaviors and the bridges that connect it to a pin bus.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/joeycumines/toolbt/internal/btm"
	"github.com/joeycumines/toolbt/internal/iobridge"
	"github.com/joeycumines/toolbt/internal/persist"
	"github.com/joeycumines/toolbt/internal/pinbus"
	"github.com/joeycumines/toolbt/internal/runner"
	"github.com/joeycumines/toolbt/internal/tst"
)

var (
	// ErrNotPermitted is returned when a manual-control gate refuses a user
	// request.
	ErrNotPermitted = errors.New("orchestrator: not permitted")
	// ErrUnknownBehavior is returned for a behavior name that no container
	// owns.
	ErrUnknownBehavior = errors.New("orchestrator: unknown behavior")
)

// DefaultRunnerPeriod is the single runner period used when none is
// configured.
const DefaultRunnerPeriod = 100 * time.Millisecond

// UserOperator is the action log user for requests made through the
// orchestrator's public API.
const UserOperator = "operator"

// Config configures an Orchestrator. Document is required.
type Config struct {
	Document *persist.Document
	// RunnerPeriods creates one runner per entry, index by position.
	RunnerPeriods []time.Duration
	// BridgePeriods creates one bridge per entry, index by position. Bridges
	// are only created when Bus is set.
	BridgePeriods  []time.Duration
	Bus            pinbus.Bus
	QueueSize      int
	TelemetrySize  int
	QueryCacheSize int
	Callbacks      btm.Callbacks
	Logger         *slog.Logger
	Meter          metric.Meter
	Now            func() time.Time
}

type behaviorKey struct {
	target tst.Handle
	name   string
}

// Orchestrator is the engine.
type Orchestrator struct {
	tool      *tst.Tree
	env       *btm.Env
	callbacks btm.Callbacks
	logger    *slog.Logger
	runners   []*runner.Runner
	bridges   []*iobridge.Bridge
	queries   *programCache

	// mu guards the behavior set and its indexes. Mutate holds it for
	// writing, only while every runner is paused.
	mu        sync.RWMutex
	behaviors []*btm.Tree
	byKey     map[behaviorKey]*btm.Tree
	owner     map[*btm.Tree]*runner.Runner
}

var _ btm.Behaviors = (*Orchestrator)(nil)

// New builds the engine: it attaches every behavior to the tool, binds
// each to its runner and applies launch values. Nothing ticks until Run.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Document == nil || cfg.Document.Tool == nil {
		return nil, errors.New("orchestrator: no document")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.RunnerPeriods) == 0 {
		cfg.RunnerPeriods = []time.Duration{DefaultRunnerPeriod}
	}
	o := &Orchestrator{
		tool:      cfg.Document.Tool,
		callbacks: cfg.Callbacks,
		logger:    cfg.Logger,
		queries:   newProgramCache(cfg.QueryCacheSize),
	}
	o.env = &btm.Env{Tool: o.tool, Behaviors: o, Now: cfg.Now, Logger: cfg.Logger}
	if cfg.Callbacks != nil {
		o.env.Callbacks = cfg.Callbacks
	}

	var actionLog func(user, action string)
	if cfg.Callbacks != nil {
		actionLog = cfg.Callbacks.ActionLog
	}
	for i, period := range cfg.RunnerPeriods {
		r, err := runner.New(runner.Config{
			ID:            i,
			Period:        period,
			TelemetrySize: cfg.TelemetrySize,
			Tool:          o.tool,
			Logger:        cfg.Logger,
			Meter:         cfg.Meter,
			ActionLog:     actionLog,
			Now:           cfg.Now,
		})
		if err != nil {
			return nil, err
		}
		o.runners = append(o.runners, r)
	}
	if cfg.Bus != nil {
		for i, period := range cfg.BridgePeriods {
			b, err := iobridge.New(iobridge.Config{
				Index:     i,
				Period:    period,
				QueueSize: cfg.QueueSize,
				Tool:      o.tool,
				Bus:       cfg.Bus,
				Logger:    cfg.Logger,
				OnFatal:   o.bridgeFailed,
			})
			if err != nil {
				return nil, err
			}
			o.bridges = append(o.bridges, b)
		}
	}

	for _, tree := range cfg.Document.Behaviors {
		tree.SetEnv(o.env)
		o.tool.OnSync(tree)
		tree.SyncToTool(o.tool)
		o.behaviors = append(o.behaviors, tree)
	}
	o.reindex()
	n := o.tool.ApplyLaunchValues()
	o.logger.Info("[Orchestrator] loaded",
		"behaviors", len(o.behaviors),
		"runners", len(o.runners),
		"bridges", len(o.bridges),
		"launch_values", n,
	)
	return o, nil
}

func (o *Orchestrator) bridgeFailed(err error) {
	if o.callbacks != nil {
		o.callbacks.Alert(btm.AlertAlarm, "", "", err.Error())
	}
}

// reindex rebuilds the behavior lookups from the current bindings. Callers
// hold o.mu for writing, or own o exclusively.
func (o *Orchestrator) reindex() {
	o.byKey = make(map[behaviorKey]*btm.Tree, len(o.behaviors))
	o.owner = make(map[*btm.Tree]*runner.Runner, len(o.behaviors))
	for _, tree := range o.behaviors {
		target := tree.TargetHandle()
		o.owner[tree] = o.runners[o.runnerIndex(tree, target)]
		if !target.Valid() {
			continue
		}
		key := behaviorKey{target: target, name: tree.Name()}
		if prev, ok := o.byKey[key]; ok && prev != tree {
			o.logger.Warn("[Orchestrator] duplicate behavior name", "behavior", tree.String())
			continue
		}
		o.byKey[key] = tree
	}
}

// runnerIndex resolves the runner of a behavior: the nearest container at
// or above its target with a runner index set, else 0.
func (o *Orchestrator) runnerIndex(tree *btm.Tree, target tst.Handle) int {
	for h := target; h.Valid(); h = o.tool.Parent(h) {
		idx, ok := o.tool.RunnerIndex(h)
		if !ok {
			continue
		}
		if idx < 0 {
			continue
		}
		if idx >= len(o.runners) {
			o.logger.Warn("[Orchestrator] runner index out of range, using runner 0",
				"behavior", tree.String(), "index", idx, "runners", len(o.runners))
			return 0
		}
		return idx
	}
	return 0
}

// Tool returns the tool state tree.
func (o *Orchestrator) Tool() *tst.Tree { return o.tool }

// Runners returns the runners, by index.
func (o *Orchestrator) Runners() []*runner.Runner { return o.runners }

// Bridges returns the bridges, by index.
func (o *Orchestrator) Bridges() []*iobridge.Bridge { return o.bridges }

// Behaviors returns every behavior in load order.
func (o *Orchestrator) Behaviors() []*btm.Tree {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*btm.Tree(nil), o.behaviors...)
}

// Document returns the current tool and behaviors, for saving.
func (o *Orchestrator) Document() *persist.Document {
	return &persist.Document{Tool: o.tool, Behaviors: o.Behaviors()}
}

// RunnerOf returns the runner a behavior is bound to.
func (o *Orchestrator) RunnerOf(tree *btm.Tree) *runner.Runner {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.owner[tree]
}

func (o *Orchestrator) lookup(target tst.Handle, name string) (*btm.Tree, *runner.Runner, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tree, ok := o.byKey[behaviorKey{target: target, name: name}]
	if !ok || !target.Valid() {
		return nil, nil, fmt.Errorf("%w: %q on %s", ErrUnknownBehavior, name, o.tool.Path(target))
	}
	return tree, o.owner[tree], nil
}

// Behavior finds the behavior called name owned by the container at path.
func (o *Orchestrator) Behavior(path, name string) (*btm.Tree, error) {
	tree, _, err := o.lookup(o.tool.Lookup(path), name)
	return tree, err
}

// RunAbortSiblings starts a behavior on behalf of a RunBehavior leaf. It is
// not subject to manual-control gates.
func (o *Orchestrator) RunAbortSiblings(container tst.Handle, name string) error {
	tree, r, err := o.lookup(container, name)
	if err != nil {
		return err
	}
	r.RunAbortSiblings(tree)
	return nil
}

// checkManual applies the manual-control gate to a user request on target.
// Device behaviors need their system under manual control and offline.
func (o *Orchestrator) checkManual(target tst.Handle) error {
	if o.tool.Kind(target) != tst.KindDevice {
		return nil
	}
	sys := o.tool.Ancestor(target, tst.KindSystem)
	manual, _ := o.tool.Get(sys, tst.ColManualControl).(bool)
	online, _ := o.tool.Get(sys, tst.ColIsOnline).(bool)
	if !manual || online {
		return fmt.Errorf("%w: %s is not under manual control", ErrNotPermitted, o.tool.Path(sys))
	}
	return nil
}

// StartBehavior starts a behavior on behalf of a user. Behaviors that are
// not user visible, and device behaviors whose system is online or not
// under manual control, are refused with ErrNotPermitted.
func (o *Orchestrator) StartBehavior(path, name string) error {
	target := o.tool.Lookup(path)
	tree, r, err := o.lookup(target, name)
	if err != nil {
		return err
	}
	if !tree.Root().UserVisible {
		return fmt.Errorf("%w: %s is not user visible", ErrNotPermitted, tree)
	}
	if err := o.checkManual(target); err != nil {
		return err
	}
	o.action(UserOperator, "start behavior "+tree.String())
	r.Start(tree)
	return nil
}

// AbortBehavior stops a running behavior. Aborting is always permitted.
func (o *Orchestrator) AbortBehavior(path, name string) error {
	tree, r, err := o.lookup(o.tool.Lookup(path), name)
	if err != nil {
		return err
	}
	o.action(UserOperator, "abort behavior "+tree.String())
	r.Stop(tree)
	return nil
}

// SetVariable assigns a variable's value on behalf of a user and marks it
// user_manual_set.
func (o *Orchestrator) SetVariable(path string, value any) error {
	h := o.tool.Lookup(path)
	if !o.tool.Kind(h).IsVariable() {
		return fmt.Errorf("%w: %q is not a variable", tst.ErrUnresolved, path)
	}
	if err := o.tool.Set(h, tst.ColValue, value); err != nil {
		return err
	}
	if err := o.tool.Set(h, tst.ColUserManualSet, true); err != nil {
		return err
	}
	o.action(UserOperator, fmt.Sprintf("set %s = %v", path, o.tool.Get(h, tst.ColValue)))
	return nil
}

// Set writes one column on behalf of a user. Writing a system's online
// flag goes through the tool, so going online drops manual control.
func (o *Orchestrator) Set(path string, col tst.Column, value any) error {
	h := o.tool.Lookup(path)
	if !h.Valid() && path != "" {
		return fmt.Errorf("%w: %q", tst.ErrUnresolved, path)
	}
	if err := o.tool.Set(h, col, value); err != nil {
		return err
	}
	o.action(UserOperator, fmt.Sprintf("set %s.%s = %v", path, col, value))
	return nil
}

// Get reads one column.
func (o *Orchestrator) Get(path string, col tst.Column) (any, error) {
	h := o.tool.Lookup(path)
	if !h.Valid() {
		return nil, fmt.Errorf("%w: %q", tst.ErrUnresolved, path)
	}
	return o.tool.Get(h, col), nil
}

// AddBehavior attaches a new behavior and binds it.
func (o *Orchestrator) AddBehavior(tree *btm.Tree) error {
	return o.Mutate(func(*tst.Tree) error {
		tree.SetEnv(o.env)
		o.tool.OnSync(tree)
		o.behaviors = append(o.behaviors, tree)
		return nil
	})
}

// Mutate applies a topology edit. Every runner is paused first, then fn
// runs, every behavior is re-bound by name and runner bindings are
// recomputed. A behavior moved to another runner keeps running where it
// is until stopped.
func (o *Orchestrator) Mutate(fn func(tool *tst.Tree) error) error {
	for _, r := range o.runners {
		r.Pause()
	}
	defer func() {
		for _, r := range o.runners {
			r.Resume()
		}
	}()
	o.mu.Lock()
	defer o.mu.Unlock()
	err := fn(o.tool)
	o.tool.SyncAfterMutation()
	o.reindex()
	return err
}

func (o *Orchestrator) action(user, action string) {
	if o.callbacks != nil {
		o.callbacks.ActionLog(user, action)
		return
	}
	o.logger.Info("[Action] "+action, "user", user)
}
