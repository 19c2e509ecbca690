// Package scripting runs JavaScript automation scripts against a running
// orchestrator.
//
// Scripts see these globals:
//
//	engine.start(path, behavior)     engine.abort(path, behavior)
//	engine.get(path, column)         engine.set(path, column, value)
//	engine.setVariable(path, value)  engine.query(expr)
//	engine.waitFor(expr, timeoutMs)  engine.running()
//	sleep(ms)  env(key)  log.{debug,info,warn,error}(msg, ...kv)
//	output.print(...)  output.printf(format, ...)
//
// Go errors surface as JavaScript exceptions.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dop251/goja"

	"github.com/joeycumines/toolbt/internal/orchestrator"
	"github.com/joeycumines/toolbt/internal/tst"
)

// PollInterval is how often engine.waitFor re-evaluates its condition.
const PollInterval = 10 * time.Millisecond

// ErrTimeout is thrown by engine.waitFor.
var ErrTimeout = errors.New("scripting: condition not met before timeout")

// Engine is a single-use JavaScript runtime bound to one orchestrator. It
// must be used from one goroutine.
type Engine struct {
	vm     *goja.Runtime
	ctx    context.Context
	o      *orchestrator.Orchestrator
	stdout io.Writer
	logger *slog.Logger
}

// NewEngine builds a runtime. Cancelling ctx interrupts a running script.
func NewEngine(ctx context.Context, o *orchestrator.Orchestrator, stdout io.Writer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{vm: goja.New(), ctx: ctx, o: o, stdout: stdout, logger: logger}
	e.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	e.setupGlobals()
	return e
}

// RunFile executes the script at path.
func (e *Engine) RunFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.Run(path, string(data))
}

// Run executes source. A panic inside a host function is returned as an
// error.
func (e *Engine) Run(name, source string) (err error) {
	stop := context.AfterFunc(e.ctx, func() { e.vm.Interrupt(e.ctx.Err()) })
	defer stop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script %s panicked: %v", name, r)
		}
	}()
	e.logger.Info("[Script] started", "script", name)
	if _, err := e.vm.RunScript(name, source); err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return fmt.Errorf("script %s interrupted: %w", name, e.ctx.Err())
		}
		return fmt.Errorf("script %s failed: %w", name, err)
	}
	e.logger.Info("[Script] finished", "script", name)
	return nil
}

func (e *Engine) setupGlobals() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(e.vm.Set("engine", map[string]any{
		"start":       e.o.StartBehavior,
		"abort":       e.o.AbortBehavior,
		"get":         e.get,
		"set":         e.set,
		"setVariable": e.o.SetVariable,
		"query":       e.o.Query,
		"waitFor":     e.waitFor,
		"running":     e.running,
	}))
	must(e.vm.Set("sleep", e.sleep))
	must(e.vm.Set("env", os.Getenv))
	must(e.vm.Set("log", map[string]any{
		"debug": e.logFunc(slog.LevelDebug),
		"info":  e.logFunc(slog.LevelInfo),
		"warn":  e.logFunc(slog.LevelWarn),
		"error": e.logFunc(slog.LevelError),
	}))
	must(e.vm.Set("output", map[string]any{
		"print": func(args ...any) {
			_, _ = fmt.Fprintln(e.stdout, args...)
		},
		"printf": func(format string, args ...any) {
			_, _ = fmt.Fprintf(e.stdout, format, args...)
		},
	}))
}

func column(name string) (tst.Column, error) {
	col, ok := tst.ParseColumn(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", tst.ErrUnknownColumn, name)
	}
	return col, nil
}

func (e *Engine) get(path, name string) (any, error) {
	col, err := column(name)
	if err != nil {
		return nil, err
	}
	return e.o.Get(path, col)
}

func (e *Engine) set(path, name string, value any) error {
	col, err := column(name)
	if err != nil {
		return err
	}
	return e.o.Set(path, col, value)
}

func (e *Engine) running() []string {
	out := []string{}
	for _, r := range e.o.Runners() {
		for _, tree := range r.Running() {
			out = append(out, tree.String())
		}
	}
	return out
}

func (e *Engine) sleep(ms int64) error {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-e.ctx.Done():
		return e.ctx.Err()
	case <-t.C:
		return nil
	}
}

// waitFor polls a boolean query until it holds. A timeout of 0 waits until
// the context ends.
func (e *Engine) waitFor(source string, timeoutMs int64) error {
	ctx := e.ctx
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}
	t := time.NewTicker(PollInterval)
	defer t.Stop()
	for {
		ok, err := e.o.QueryBool(source)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if e.ctx.Err() == nil {
				return fmt.Errorf("%w: %s", ErrTimeout, source)
			}
			return e.ctx.Err()
		case <-t.C:
		}
	}
}

func (e *Engine) logFunc(level slog.Level) func(msg string, kv ...any) {
	return func(msg string, kv ...any) {
		e.logger.Log(e.ctx, level, "[Script] "+msg, kv...)
	}
}
