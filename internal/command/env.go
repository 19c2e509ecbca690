package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/joeycumines/toolbt/internal/argv"
	"github.com/joeycumines/toolbt/internal/config"
	"github.com/joeycumines/toolbt/internal/eventlog"
	"github.com/joeycumines/toolbt/internal/logging"
	"github.com/joeycumines/toolbt/internal/orchestrator"
	"github.com/joeycumines/toolbt/internal/persist"
	"github.com/joeycumines/toolbt/internal/pinbus"
)

// ErrNoToolFile is returned when neither -tool nor tool.file names a
// document.
var ErrNoToolFile = errors.New("no tool file: pass -tool or set tool.file")

// toolFlag is the -tool flag shared by the commands that load a document.
type toolFlag struct {
	path string
}

func (f *toolFlag) setup(fs *flag.FlagSet) {
	fs.StringVar(&f.path, "tool", "", "Tool document, JSON or YAML (overrides tool.file)")
}

func (f *toolFlag) resolve(s config.Settings) (string, error) {
	if f.path != "" {
		return f.path, nil
	}
	if s.ToolFile != "" {
		return s.ToolFile, nil
	}
	return "", ErrNoToolFile
}

// newLogger builds the process logger from s, text on stderr.
func newLogger(s config.Settings, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return logging.New(logging.Options{
		Level:     level,
		Terminal:  stderr,
		File:      s.LogFile,
		MaxSizeMB: s.LogMaxSizeMB,
		MaxFiles:  s.LogMaxFiles,
	})
}

// openBus connects the transport s.Mode selects. The closer releases it.
func openBus(ctx context.Context, s config.BusSettings, pins []pinbus.PinInfo, logger *slog.Logger) (pinbus.Bus, io.Closer, error) {
	switch s.Mode {
	case config.BusMem, "":
		return pinbus.NewMemBus(logger, pins...), nopCloser{}, nil
	case config.BusExec:
		b, err := newExecBus(s, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, nopCloser{}, nil
	case config.BusSerial:
		if s.SerialPort == "" {
			return nil, nil, errors.New("bus.serial.port is not set")
		}
		b, err := pinbus.DialSerial(logger, s.SerialPort, s.SerialBaud, pins...)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case config.BusTCP:
		if s.TCPAddress == "" {
			return nil, nil, errors.New("bus.tcp.address is not set")
		}
		b, err := pinbus.DialTCP(ctx, logger, s.TCPAddress, pins...)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	}
	return nil, nil, fmt.Errorf("unknown bus mode: %s", s.Mode)
}

// newExecBus builds an ExecBus from configured command lines, each a
// program followed by extra arguments.
func newExecBus(s config.BusSettings, logger *slog.Logger) (*pinbus.ExecBus, error) {
	halcmd, halcmdArgs, err := argv.Command(s.HalCmd, "halcmd")
	if err != nil {
		return nil, fmt.Errorf("bus.halcmd: %w", err)
	}
	sampler, samplerArgs, err := argv.Command(s.HalSampler, "halsampler")
	if err != nil {
		return nil, fmt.Errorf("bus.halsampler: %w", err)
	}
	streamer, streamerArgs, err := argv.Command(s.HalStreamer, "halstreamer")
	if err != nil {
		return nil, fmt.Errorf("bus.halstreamer: %w", err)
	}
	b := pinbus.NewExecBus(logger, halcmd, sampler, streamer)
	b.HalcmdArgs = halcmdArgs
	b.SamplerArgs = append(b.SamplerArgs, samplerArgs...)
	b.StreamerArgs = append(b.StreamerArgs, streamerArgs...)
	return b, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// engineOptions selects what openEngine wires up.
type engineOptions struct {
	toolFile string
	// bus connects the pin bus and creates the bridges.
	bus bool
	// lock takes the document's file lock for the engine's lifetime.
	lock bool
}

// engine is a loaded orchestrator with everything it was built from.
type engine struct {
	settings config.Settings
	logger   *slog.Logger
	doc      *persist.Document
	docErr   error
	store    *eventlog.Store
	bus      pinbus.Bus
	orch     *orchestrator.Orchestrator
	closers  []io.Closer
}

// openEngine loads the document and builds the orchestrator. Configuration
// errors in the document are logged and kept in docErr; only an unusable
// document fails.
func openEngine(ctx context.Context, s config.Settings, logger *slog.Logger, opts engineOptions) (_ *engine, err error) {
	e := &engine{settings: s, logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if opts.lock {
		l, err := persist.LockFile(opts.toolFile)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", opts.toolFile, err)
		}
		e.closers = append(e.closers, lockCloser{l})
	}

	e.doc, e.docErr = persist.Load(opts.toolFile)
	if e.doc == nil {
		return nil, e.docErr
	}
	if e.docErr != nil {
		logger.Warn("[Tool] document has configuration errors", "file", opts.toolFile, "error", e.docErr)
	}

	if e.store, err = eventlog.Open(eventlog.Config{Path: s.EventLogPath, Logger: logger}); err != nil {
		return nil, err
	}
	e.closers = append(e.closers, e.store)

	if opts.bus {
		bus, closer, err := openBus(ctx, s.Bus, s.Pins, logger)
		if err != nil {
			return nil, err
		}
		e.bus = bus
		e.closers = append(e.closers, closer)
	}

	e.orch, err = orchestrator.New(orchestrator.Config{
		Document:       e.doc,
		RunnerPeriods:  s.RunnerPeriods,
		BridgePeriods:  s.BridgePeriods,
		Bus:            e.bus,
		QueueSize:      s.QueueSize,
		TelemetrySize:  s.TelemetrySize,
		QueryCacheSize: s.QueryCacheSize,
		Callbacks:      e.store,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases everything in reverse order of acquisition.
func (e *engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i].Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}

type lockCloser struct{ l *persist.FileLock }

func (c lockCloser) Close() error { return c.l.Release() }
