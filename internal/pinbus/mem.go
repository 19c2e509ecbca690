package pinbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by readers and writers of a closed bus or stream.
var ErrClosed = errors.New("pinbus: closed")

// MemBus is an in-process pin namespace. It stands in for the hardware
// daemon in tests and simulation: inputs are driven with SetPin, frames are
// pushed to samplers with Sample, and streamer frames are captured and looped
// back into the pin values.
type MemBus struct {
	logger   *slog.Logger
	mu       sync.Mutex
	pins     []PinInfo
	values   map[string]float64
	samplers []*memSampler
	frames   []string
	writeErr error
	nextID   uint64
}

// NewMemBus constructs a MemBus exposing pins, all zero valued.
func NewMemBus(logger *slog.Logger, pins ...PinInfo) *MemBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MemBus{
		logger: logger,
		pins:   append([]PinInfo(nil), pins...),
		values: make(map[string]float64, len(pins)),
	}
	for _, p := range pins {
		b.values[p.Name] = 0
	}
	return b
}

func (b *MemBus) Pins(ctx context.Context) ([]PinInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PinInfo(nil), b.pins...), nil
}

// SetPin assigns the current value of a pin.
func (b *MemBus) SetPin(name string, v float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[name]; !ok {
		return fmt.Errorf("pinbus: unknown pin %q", name)
	}
	b.values[name] = v
	return nil
}

// Pin returns the current value of a pin.
func (b *MemBus) Pin(name string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[name]
	return v, ok
}

// Sample pushes one frame of current values to every open sampler. Frames
// are dropped for samplers whose buffer is full.
func (b *MemBus) Sample() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	for _, s := range b.samplers {
		values := make([]float64, len(s.cfg.Pins))
		for i, p := range s.cfg.Pins {
			values[i] = b.values[p.Name]
		}
		s.push([]byte(EncodeSample(b.nextID, s.cfg.String(), values)))
	}
}

// EmitLine pushes a raw line to every open sampler, verbatim apart from the
// trailing newline.
func (b *MemBus) EmitLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.samplers {
		s.push([]byte(line + "\n"))
	}
}

// Frames returns every streamer frame written so far.
func (b *MemBus) Frames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.frames...)
}

// FailWrites makes every subsequent streamer write fail with err. A nil err
// restores normal operation.
func (b *MemBus) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// Run calls Sample every period until ctx is done.
func (b *MemBus) Run(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			b.Sample()
		}
	}
}

func (b *MemBus) OpenSampler(ctx context.Context, cfg Config) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.check(cfg); err != nil {
		return nil, err
	}
	s := &memSampler{bus: b, cfg: cfg, lines: make(chan []byte, 1024), done: make(chan struct{})}
	b.mu.Lock()
	b.samplers = append(b.samplers, s)
	b.mu.Unlock()
	b.logger.Debug("[MemBus] sampler opened", "cfg", cfg.String(), "pins", len(cfg.Pins))
	return s, nil
}

func (b *MemBus) OpenStreamer(ctx context.Context, cfg Config) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.check(cfg); err != nil {
		return nil, err
	}
	b.logger.Debug("[MemBus] streamer opened", "cfg", cfg.String(), "pins", len(cfg.Pins))
	return &memStreamer{bus: b, cfg: cfg}, nil
}

func (b *MemBus) check(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range cfg.Pins {
		if _, ok := b.values[p.Name]; !ok {
			return fmt.Errorf("pinbus: unknown pin %q", p.Name)
		}
	}
	return nil
}

func (b *MemBus) removeSampler(s *memSampler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, x := range b.samplers {
		if x == s {
			b.samplers = append(b.samplers[:i:i], b.samplers[i+1:]...)
			return
		}
	}
}

type memSampler struct {
	bus   *MemBus
	cfg   Config
	lines chan []byte
	buf   []byte
	done  chan struct{}
	once  sync.Once
}

func (s *memSampler) push(line []byte) {
	select {
	case <-s.done:
	case s.lines <- line:
	default:
		s.bus.logger.Warn("[MemBus] sampler buffer full, frame dropped")
	}
}

func (s *memSampler) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		select {
		case <-s.done:
			return 0, io.EOF
		case s.buf = <-s.lines:
		}
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *memSampler) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.removeSampler(s)
	})
	return nil
}

type memStreamer struct {
	bus     *MemBus
	cfg     Config
	pending bytes.Buffer
	closed  bool
}

// Write accepts whole or partial frames. Completed frames are recorded and
// their values applied to the bus pins.
func (w *memStreamer) Write(p []byte) (int, error) {
	b := w.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	if b.writeErr != nil {
		return 0, b.writeErr
	}
	w.pending.Write(p)
	cfg := w.cfg.String()
	for {
		line, err := w.pending.ReadString('\n')
		if err != nil {
			// incomplete, keep for the next write
			w.pending.Reset()
			w.pending.WriteString(line)
			break
		}
		b.frames = append(b.frames, line)
		values, perr := ParseFrame(line, cfg)
		if perr != nil {
			b.logger.Warn("[MemBus] bad streamer frame", "frame", line, "error", perr)
			continue
		}
		for i, pin := range w.cfg.Pins {
			b.values[pin.Name] = values[i]
		}
	}
	return len(p), nil
}

func (w *memStreamer) Close() error {
	w.bus.mu.Lock()
	defer w.bus.mu.Unlock()
	w.closed = true
	return nil
}
