package pinbus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// ExecBus talks to a HAL daemon through its command line tools. Pins are
// discovered with "halcmd -s show pin", sampler frames are read from the
// standard output of halsampler and streamer frames are written to the
// standard input of halstreamer. Wiring the sampler and streamer components
// to the pins is the daemon's configuration and happens out of band.
type ExecBus struct {
	Halcmd       string
	HalcmdArgs   []string
	Halsampler   string
	Halstreamer  string
	SamplerArgs  []string
	StreamerArgs []string
	Logger       *slog.Logger
}

// NewExecBus returns an ExecBus using the named binaries, with defaults for
// empty names. halsampler runs with -t so each frame carries its sample id.
func NewExecBus(logger *slog.Logger, halcmd, halsampler, halstreamer string) *ExecBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecBus{
		Halcmd:      orDefault(halcmd, "halcmd"),
		Halsampler:  orDefault(halsampler, "halsampler"),
		Halstreamer: orDefault(halstreamer, "halstreamer"),
		SamplerArgs: []string{"-t"},
		Logger:      logger,
	}
}

func (b *ExecBus) Pins(ctx context.Context) ([]PinInfo, error) {
	cmd := exec.CommandContext(ctx, b.Halcmd, append(append([]string(nil), b.HalcmdArgs...), "-s", "show", "pin")...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pinbus: %s show pin: %w: %s", b.Halcmd, err, strings.TrimSpace(stderr.String()))
	}
	return ParseHalPins(bytes.NewReader(out), b.Logger)
}

// ParseHalPins parses the listing printed by "halcmd -s show pin", one pin
// per line: owner, type, direction, value, name and optional signal arrows.
// Lines that do not parse are skipped.
func ParseHalPins(r io.Reader, logger *slog.Logger) ([]PinInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var pins []PinInfo
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		typ, err := ParseType(fields[1])
		if err != nil {
			logger.Debug("[ExecBus] skipping pin line", "line", sc.Text(), "error", err)
			continue
		}
		dir, err := ParseDirection(fields[2])
		if err != nil {
			logger.Debug("[ExecBus] skipping pin line", "line", sc.Text(), "error", err)
			continue
		}
		pins = append(pins, PinInfo{Name: fields[4], Type: typ, Direction: dir})
	}
	return pins, sc.Err()
}

func (b *ExecBus) OpenSampler(ctx context.Context, cfg Config) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, b.Halsampler, b.SamplerArgs...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pinbus: start %s: %w", b.Halsampler, err)
	}
	b.Logger.Info("[ExecBus] sampler started", "cmd", b.Halsampler, "cfg", cfg.String(), "pid", cmd.Process.Pid)
	return &proc{cmd: cmd, r: out}, nil
}

func (b *ExecBus) OpenStreamer(ctx context.Context, cfg Config) (io.WriteCloser, error) {
	cmd := exec.CommandContext(ctx, b.Halstreamer, b.StreamerArgs...)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pinbus: start %s: %w", b.Halstreamer, err)
	}
	b.Logger.Info("[ExecBus] streamer started", "cmd", b.Halstreamer, "cfg", cfg.String(), "pid", cmd.Process.Pid)
	return &proc{cmd: cmd, w: in}, nil
}

// proc is one end of a child process's standard streams.
type proc struct {
	cmd  *exec.Cmd
	r    io.ReadCloser
	w    io.WriteCloser
	once sync.Once
	err  error
}

func (p *proc) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *proc) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *proc) Close() error {
	p.once.Do(func() {
		if p.w != nil {
			// streamers exit on EOF
			p.err = p.w.Close()
		} else if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		werr := p.cmd.Wait()
		var exitErr *exec.ExitError
		if p.err == nil && werr != nil && !errors.As(werr, &exitErr) {
			p.err = werr
		}
	})
	return p.err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
