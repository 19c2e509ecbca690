// Package runner implements the behavior runner: a fixed-period cooperative
// scheduler ticking a FIFO set of behavior trees.
//
// Within one tick trees execute serially in start order over a snapshot of
// the running set. Trees that finish, or fault, are removed after every tree
// has ticked. Requests made by a tree while it ticks (RunBehavior leaves)
// are applied after those removals, so a tree started that way first runs on
// the next tick.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	bt "github.com/joeycumines/go-behaviortree"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joeycumines/toolbt/internal/btm"
	"github.com/joeycumines/toolbt/internal/goroutineid"
	"github.com/joeycumines/toolbt/internal/tst"
)

// ErrRuntimeFault wraps a panic or error raised while ticking a tree.
var ErrRuntimeFault = errors.New("runner: runtime fault")

// DefaultTelemetrySize is the tick-time ring capacity used when none is
// configured.
const DefaultTelemetrySize = 1000

// Config configures a Runner. Tool is required.
type Config struct {
	ID            int
	Period        time.Duration
	TelemetrySize int
	Tool          *tst.Tree
	Logger        *slog.Logger
	// Meter defaults to the global meter provider.
	Meter metric.Meter
	// ActionLog receives one entry per finished tree.
	ActionLog func(user, action string)
	Now       func() time.Time
}

type entry struct {
	tree    *btm.Tree
	node    bt.Node
	target  tst.Handle
	stopped bool
}

type opKind uint8

const (
	opStart opKind = iota + 1
	opStop
)

type request struct {
	op   opKind
	tree *btm.Tree
}

// Runner is one behavior runner.
type Runner struct {
	id     int
	period time.Duration
	tool   *tst.Tree
	logger *slog.Logger
	action func(user, action string)
	now    func() time.Time
	attrs  metric.MeasurementOption

	tickDuration metric.Float64Histogram
	finished     metric.Int64Counter

	// tickMu is held for the whole of a tick, and while paused.
	tickMu sync.Mutex
	// tickG is the id of the goroutine currently ticking, 0 when idle.
	tickG atomic.Int64

	mu       sync.Mutex
	running  []*entry
	pending  []request
	deferred []request
	ring     []time.Duration
	ringNext int
	ticks    uint64
}

// New constructs a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Tool == nil {
		return nil, errors.New("runner: nil tool tree")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("runner: invalid period %v", cfg.Period)
	}
	if cfg.TelemetrySize <= 0 {
		cfg.TelemetrySize = DefaultTelemetrySize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter("github.com/joeycumines/toolbt/internal/runner")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Runner{
		id:     cfg.ID,
		period: cfg.Period,
		tool:   cfg.Tool,
		logger: cfg.Logger.With("runner", cfg.ID),
		action: cfg.ActionLog,
		now:    cfg.Now,
		attrs:  metric.WithAttributes(attribute.Int("runner", cfg.ID)),
		ring:   make([]time.Duration, 0, cfg.TelemetrySize),
	}
	var err error
	r.tickDuration, err = cfg.Meter.Float64Histogram("toolbt.runner.tick.duration",
		metric.WithDescription("Wall time of one runner tick in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	r.finished, err = cfg.Meter.Int64Counter("toolbt.runner.behaviors.finished",
		metric.WithDescription("Number of behaviors removed from a runner, by outcome"),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ID is the runner index.
func (r *Runner) ID() int { return r.id }

// Period is the tick period.
func (r *Runner) Period() time.Duration { return r.period }

// Start resets tree and runs it, stopping any running tree with the same
// target.
func (r *Runner) Start(tree *btm.Tree) { r.submit(request{op: opStart, tree: tree}) }

// RunAbortSiblings is Start, under the name RunBehavior leaves use.
func (r *Runner) RunAbortSiblings(tree *btm.Tree) { r.submit(request{op: opStart, tree: tree}) }

// Stop removes tree from the running set, clearing its target's running
// behavior and info text.
func (r *Runner) Stop(tree *btm.Tree) { r.submit(request{op: opStop, tree: tree}) }

// submit applies req immediately when the runner is idle. Requests from
// the runner's own tick are deferred to the end of that tick, requests from
// other goroutines during a tick to the start of the next one.
func (r *Runner) submit(req request) {
	if g := r.tickG.Load(); g != 0 && g == goroutineid.Get() {
		r.mu.Lock()
		r.deferred = append(r.deferred, req)
		r.mu.Unlock()
		return
	}
	if r.tickMu.TryLock() {
		r.apply(req)
		r.tickMu.Unlock()
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, req)
	r.mu.Unlock()
}

// apply runs with tickMu held.
func (r *Runner) apply(req request) {
	switch req.op {
	case opStart:
		r.start(req.tree)
	case opStop:
		r.mu.Lock()
		var found *entry
		for _, e := range r.running {
			if e.tree == req.tree {
				found = e
				break
			}
		}
		r.mu.Unlock()
		if found != nil {
			r.stop(found, "stopped")
		}
	}
}

func (r *Runner) start(tree *btm.Tree) {
	target := tree.TargetHandle()
	r.mu.Lock()
	var siblings []*entry
	for _, e := range r.running {
		if e.target == target || e.tree == tree {
			siblings = append(siblings, e)
		}
	}
	r.mu.Unlock()
	for _, e := range siblings {
		r.stop(e, "aborted")
	}
	tree.Reset()
	e := &entry{tree: tree, node: tree.Node(), target: target}
	r.mu.Lock()
	r.running = append(r.running, e)
	r.mu.Unlock()
	if target.Valid() {
		if err := r.tool.Set(target, tst.ColRunningBehavior, tree.Name()); err != nil {
			r.logger.Warn("[Runner] cannot mark running behavior", "behavior", tree.String(), "error", err)
		}
	}
	r.logger.Info("[Runner] behavior started", "behavior", tree.String())
}

func (r *Runner) stop(e *entry, reason string) {
	r.mu.Lock()
	if e.stopped {
		r.mu.Unlock()
		return
	}
	e.stopped = true
	r.running = slices.DeleteFunc(r.running, func(x *entry) bool { return x == e })
	r.mu.Unlock()
	if e.target.Valid() {
		_ = r.tool.Set(e.target, tst.ColRunningBehavior, "")
		_ = r.tool.Set(e.target, tst.ColInfoText, "")
	}
	r.logger.Info("[Runner] behavior "+reason, "behavior", e.tree.String())
}

// Tick runs one scheduler iteration. It is normally driven by the ticker
// returned from NewTicker.
func (r *Runner) Tick() {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	start := r.now()
	r.tickG.Store(goroutineid.Get())
	defer r.tickG.Store(0)

	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, req := range pending {
		r.apply(req)
	}

	r.mu.Lock()
	snapshot := slices.Clone(r.running)
	r.mu.Unlock()

	type result struct {
		e      *entry
		status bt.Status
		err    error
	}
	var done []result
	for _, e := range snapshot {
		if e.stopped {
			continue
		}
		status, err := r.tickOne(e)
		if err != nil || status == bt.Success || status == bt.Failure {
			done = append(done, result{e, status, err})
		}
	}

	for _, d := range done {
		outcome := outcomeOf(d.status)
		if d.err != nil {
			outcome = "fault"
			r.logger.Error("[Runner] behavior faulted", "behavior", d.e.tree.String(), "error", d.err)
		}
		r.stop(d.e, "finished")
		r.finished.Add(context.Background(), 1, r.attrs, metric.WithAttributes(attribute.String("outcome", outcome)))
		if r.action != nil {
			r.action("engine", fmt.Sprintf("behavior finished: %s %s", d.e.tree.String(), outcome))
		}
	}

	r.mu.Lock()
	deferred := r.deferred
	r.deferred = nil
	r.mu.Unlock()
	for _, req := range deferred {
		r.apply(req)
	}

	r.record(r.now().Sub(start))
}

func outcomeOf(s bt.Status) string {
	switch s {
	case bt.Success:
		return btm.Success.String()
	case bt.Failure:
		return btm.Failure.String()
	}
	return btm.Running.String()
}

// tickOne is the failure boundary around one tree.
func (r *Runner) tickOne(e *entry) (status bt.Status, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrRuntimeFault, rec)
		}
	}()
	status, err = e.node.Tick()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRuntimeFault, err)
	}
	return status, err
}

func (r *Runner) record(elapsed time.Duration) {
	r.mu.Lock()
	if len(r.ring) < cap(r.ring) {
		r.ring = append(r.ring, elapsed)
	} else {
		r.ring[r.ringNext] = elapsed
		r.ringNext = (r.ringNext + 1) % len(r.ring)
	}
	r.ticks++
	r.mu.Unlock()
	r.tickDuration.Record(context.Background(), float64(elapsed)/float64(time.Millisecond), r.attrs)
}

// TickTimes returns the recorded tick durations, oldest first.
func (r *Runner) TickTimes() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, 0, len(r.ring))
	out = append(out, r.ring[r.ringNext:]...)
	return append(out, r.ring[:r.ringNext]...)
}

// Ticks is the number of completed ticks.
func (r *Runner) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// Running returns the running trees in start order.
func (r *Runner) Running() []*btm.Tree {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*btm.Tree, len(r.running))
	for i, e := range r.running {
		out[i] = e.tree
	}
	return out
}

// IsRunning reports whether tree is in the running set.
func (r *Runner) IsRunning(tree *btm.Tree) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.running {
		if e.tree == tree {
			return true
		}
	}
	return false
}

// Pause blocks until any tick in progress has finished and holds off
// further ticks until Resume. It must not be called from a tree's tick.
func (r *Runner) Pause() { r.tickMu.Lock() }

// Resume applies requests queued while paused and lets ticks continue.
func (r *Runner) Resume() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, req := range pending {
		r.apply(req)
	}
	r.tickMu.Unlock()
}

// Node exposes the runner's tick as a go-behaviortree node that always
// reports Running, so a ticker drives it until stopped.
func (r *Runner) Node() bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		r.Tick()
		return bt.Running, nil
	})
}

// NewTicker starts ticking r every period until ctx is done or the ticker
// is stopped.
func (r *Runner) NewTicker(ctx context.Context) bt.Ticker {
	r.logger.Info("[Runner] started", "period", r.period)
	return bt.NewTicker(ctx, r.period, r.Node())
}
