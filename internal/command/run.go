package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/toolbt/internal/config"
	"github.com/joeycumines/toolbt/internal/persist"
	"github.com/joeycumines/toolbt/internal/pinbus"
)

// stringsFlag collects a repeatable string flag.
type stringsFlag []string

func (f *stringsFlag) String() string { return strings.Join(*f, ",") }

func (f *stringsFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

// splitStart splits "path:behavior". The path may itself be empty, naming
// the root.
func splitStart(s string) (path, name string, err error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("invalid start %q: want path:behavior", s)
	}
	return s[:i], s[i+1:], nil
}

// RunCommand runs the engine against the configured bus until interrupted.
type RunCommand struct {
	*BaseCommand
	configured
	tool     toolFlag
	start    stringsFlag
	duration time.Duration
	save     bool
}

// NewRunCommand creates a new run command.
func NewRunCommand(cfg *config.Config, schema *config.ConfigSchema) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run the tool's behaviors against the pin bus",
			"run [options]",
		),
		configured: configured{config: cfg, schema: schema},
	}
}

func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	c.tool.setup(fs)
	c.start = nil
	fs.Var(&c.start, "start", "Start a behavior once running, as path:behavior (repeatable)")
	fs.DurationVar(&c.duration, "duration", 0, "Stop after this long (default: run until interrupted)")
	fs.BoolVar(&c.save, "save", false, "Write the tool document back on exit")
}

func (c *RunCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	s := c.settings()
	path, err := c.tool.resolve(s)
	if err != nil {
		return err
	}
	starts := append(append([]string(nil), s.Run.Start...), c.start...)
	for _, item := range starts {
		if _, _, err := splitStart(item); err != nil {
			return err
		}
	}
	duration := s.Run.Duration
	if c.duration > 0 {
		duration = c.duration
	}

	logger, closer, err := newLogger(s, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	e, err := openEngine(ctx, s, logger, engineOptions{toolFile: path, bus: true, lock: true})
	if err != nil {
		return err
	}
	defer e.Close()

	for _, item := range starts {
		p, name, _ := splitStart(item)
		if err := e.orch.StartBehavior(p, name); err != nil {
			return fmt.Errorf("start %s: %w", item, err)
		}
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	if err := runEngine(ctx, e); err != nil {
		return err
	}

	if c.save || s.Run.Save {
		if err := persist.Save(path, e.orch.Document()); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
		logger.Info("[Tool] saved", "file", path)
	}
	for i, r := range e.orch.Runners() {
		_, _ = fmt.Fprintf(stdout, "runner %d: %d ticks, %d running\n", i, r.Ticks(), len(r.Running()))
	}
	return nil
}

// runEngine runs the orchestrator until ctx is done, sampling the bus
// itself when it is in-memory.
func runEngine(ctx context.Context, e *engine) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()
	if mem, ok := e.bus.(*pinbus.MemBus); ok && len(e.settings.BridgePeriods) > 0 {
		g.Go(func() error {
			err := mem.Run(runCtx, e.settings.BridgePeriods[0])
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = nil
			}
			return err
		})
	}
	g.Go(func() error {
		defer stop()
		return e.orch.Run(runCtx)
	})
	return g.Wait()
}
