// Package iobridge moves values between the tool state tree and a pin bus.
//
// Each Bridge serves the I/O nodes whose bridge index matches its own. At
// start it joins those nodes to the bus's pin listing, opens a sampler over
// every bound pin and a streamer over the pins bound to outputs, and starts a
// reader goroutine that queues sampler lines. Every tick then drains the
// queue into the nodes' raw values (sample phase) and writes one streamer
// frame if the outbound values changed (stream phase).
package iobridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/toolbt/internal/pinbus"
	"github.com/joeycumines/toolbt/internal/tst"
)

// ErrBridgeFatal marks a failed stream write. A bridge in this state no
// longer samples or streams.
var ErrBridgeFatal = errors.New("iobridge: fatal stream failure")

// DefaultQueueSize is the sampler line queue capacity used when none is
// configured.
const DefaultQueueSize = 256

// Config configures a Bridge. Tool and Bus are required.
type Config struct {
	Index     int
	Period    time.Duration
	QueueSize int
	Tool      *tst.Tree
	Bus       pinbus.Bus
	Logger    *slog.Logger
	// OnFatal is called once, from the ticking goroutine, when the bridge
	// enters its fatal state. It must not call back into the bridge.
	OnFatal func(err error)
}

// Bridge is one I/O bridge.
type Bridge struct {
	index  int
	period time.Duration
	tool   *tst.Tree
	bus    pinbus.Bus
	logger *slog.Logger
	fatalf func(error)

	sampleCfg   pinbus.Config
	sampleNodes [][]tst.Handle
	streamCfg   pinbus.Config
	streamNodes [][]tst.Handle

	lines      chan string
	dropped    int
	sampler    io.ReadCloser
	streamer   io.WriteCloser
	readerDone chan struct{}

	mu     sync.Mutex
	last   []float64
	lastID uint64
	seenID bool
	fatal  error
	frames uint64
}

// New constructs a Bridge. No pins are joined until Start.
func New(cfg Config) (*Bridge, error) {
	if cfg.Tool == nil || cfg.Bus == nil {
		return nil, errors.New("iobridge: tool and bus are required")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("iobridge: invalid period %v", cfg.Period)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		index:  cfg.Index,
		period: cfg.Period,
		tool:   cfg.Tool,
		bus:    cfg.Bus,
		logger: cfg.Logger.With("bridge", cfg.Index),
		fatalf: cfg.OnFatal,
		lines:  make(chan string, cfg.QueueSize),
	}, nil
}

// Index is the bridge index I/O nodes select it by.
func (b *Bridge) Index() int { return b.index }

// Period is the tick period.
func (b *Bridge) Period() time.Duration { return b.period }

// SamplerConfig is the joined sampler pin set, valid after Start.
func (b *Bridge) SamplerConfig() pinbus.Config { return b.sampleCfg }

// StreamerConfig is the joined streamer pin set, valid after Start.
func (b *Bridge) StreamerConfig() pinbus.Config { return b.streamCfg }

// join binds this bridge's I/O nodes to the listed pins, in listing order.
func (b *Bridge) join(pins []pinbus.PinInfo) {
	byPin := make(map[string][]tst.Handle)
	for _, h := range b.tool.IndexesOf(tst.AllIO, tst.Handle{}, -1) {
		if idx, _ := b.tool.Get(h, tst.ColBridgeIndex).(int); idx != b.index {
			continue
		}
		pin, _ := b.tool.Get(h, tst.ColHalPin).(string)
		if pin == "" {
			continue
		}
		byPin[pin] = append(byPin[pin], h)
	}
	known := make(map[string]bool, len(pins))
	for _, p := range pins {
		known[p.Name] = true
		nodes := byPin[p.Name]
		if len(nodes) == 0 {
			continue
		}
		b.sampleCfg.Pins = append(b.sampleCfg.Pins, p)
		b.sampleNodes = append(b.sampleNodes, nodes)
		var outputs []tst.Handle
		for _, h := range nodes {
			if b.tool.Kind(h).IsOutput() {
				outputs = append(outputs, h)
			}
		}
		if len(outputs) == 0 {
			continue
		}
		if p.Direction != pinbus.Out {
			b.logger.Warn("[Bridge] output bound to an input pin", "pin", p.Name, "node", b.tool.Path(outputs[0]))
			continue
		}
		b.streamCfg.Pins = append(b.streamCfg.Pins, p)
		b.streamNodes = append(b.streamNodes, outputs)
	}
	for pin, nodes := range byPin {
		if !known[pin] {
			for _, h := range nodes {
				b.logger.Warn("[Bridge] unknown pin", "pin", pin, "node", b.tool.Path(h))
			}
		}
	}
}

// Start discovers pins, opens the sampler and streamer and writes the
// initial streamer frame from the outputs' current raw values. The reader
// goroutine runs until Close.
func (b *Bridge) Start(ctx context.Context) error {
	pins, err := b.bus.Pins(ctx)
	if err != nil {
		return fmt.Errorf("iobridge: list pins: %w", err)
	}
	b.join(pins)
	b.logger.Info("[Bridge] started",
		"period", b.period,
		"sampler", b.sampleCfg.String(),
		"streamer", b.streamCfg.String(),
	)
	if len(b.sampleCfg.Pins) != 0 {
		if b.sampler, err = b.bus.OpenSampler(ctx, b.sampleCfg); err != nil {
			return fmt.Errorf("iobridge: open sampler: %w", err)
		}
		b.readerDone = make(chan struct{})
		go b.read(b.sampler)
	}
	if len(b.streamCfg.Pins) != 0 {
		if b.streamer, err = b.bus.OpenStreamer(ctx, b.streamCfg); err != nil {
			b.Close()
			return fmt.Errorf("iobridge: open streamer: %w", err)
		}
		frame := make([]float64, len(b.streamNodes))
		for i, nodes := range b.streamNodes {
			frame[i], _ = b.tool.Get(nodes[0], tst.ColHalValue).(float64)
		}
		b.mu.Lock()
		b.write(frame)
		err = b.fatal
		b.mu.Unlock()
		if err != nil {
			b.Close()
			return err
		}
	}
	return nil
}

// read queues sampler lines, discarding the oldest when the queue is full.
func (b *Bridge) read(r io.Reader) {
	defer close(b.readerDone)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		select {
		case b.lines <- line:
			continue
		default:
		}
		select {
		case <-b.lines:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		default:
		}
		select {
		case b.lines <- line:
		default:
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, pinbus.ErrClosed) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		b.logger.Warn("[Bridge] sampler stopped", "error", err)
		return
	}
	b.logger.Debug("[Bridge] sampler closed")
}

// Tick runs the sample phase then the stream phase. After a fatal stream
// failure it does nothing.
func (b *Bridge) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fatal != nil {
		return
	}
	b.sample()
	b.stream()
}

func (b *Bridge) sample() {
	if b.dropped != 0 {
		b.logger.Warn("[Bridge] sampler queue overflowed", "dropped", b.dropped)
		b.dropped = 0
	}
	cfg := b.sampleCfg.String()
	for {
		var line string
		select {
		case line = <-b.lines:
		default:
			return
		}
		id, values, err := pinbus.ParseSample(line, cfg)
		if err != nil {
			b.logger.Warn("[Bridge] dropped sample line", "line", line, "error", err)
			continue
		}
		if b.seenID && id != b.lastID+1 {
			b.logger.Debug("[Bridge] sample id gap", "previous", b.lastID, "id", id)
		}
		b.lastID, b.seenID = id, true
		for i, v := range values {
			for _, h := range b.sampleNodes[i] {
				if cur, ok := b.tool.Get(h, tst.ColHalValue).(float64); ok && cur == v {
					continue
				}
				if err := b.tool.Set(h, tst.ColHalValue, v); err != nil {
					b.logger.Warn("[Bridge] cannot store sample", "node", b.tool.Path(h), "error", err)
				}
			}
		}
	}
}

func (b *Bridge) stream() {
	if b.streamer == nil {
		return
	}
	frame := slices.Clone(b.last)
	for i, nodes := range b.streamNodes {
		for _, h := range nodes {
			if v, ok := b.tool.PopOutbound(h); ok {
				frame[i] = v
			}
		}
	}
	if slices.Equal(frame, b.last) {
		return
	}
	b.write(frame)
}

// write sends frame, entering the fatal state on failure. Callers hold b.mu.
func (b *Bridge) write(frame []float64) {
	line := pinbus.EncodeFrame(b.streamCfg.String(), frame)
	if _, err := io.WriteString(b.streamer, line); err != nil {
		b.fatal = fmt.Errorf("%w: bridge %d: %w", ErrBridgeFatal, b.index, err)
		b.logger.Error("[Bridge] stream write failed, bridge stopped", "error", err)
		if b.fatalf != nil {
			b.fatalf(b.fatal)
		}
		return
	}
	b.last = frame
	b.frames++
	b.logger.Debug("[Bridge] frame written", "frame", line[:len(line)-1])
}

// Err returns the fatal error, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fatal
}

// Frames is the number of streamer frames written, the initial one
// included.
func (b *Bridge) Frames() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// Close closes the sampler and streamer and waits for the reader.
func (b *Bridge) Close() error {
	b.mu.Lock()
	sampler, streamer := b.sampler, b.streamer
	b.sampler, b.streamer = nil, nil
	b.mu.Unlock()
	if sampler == nil && streamer == nil {
		return nil
	}
	var errs []error
	if sampler != nil {
		errs = append(errs, sampler.Close())
	}
	if streamer != nil {
		errs = append(errs, streamer.Close())
	}
	if b.readerDone != nil {
		<-b.readerDone
	}
	b.logger.Info("[Bridge] stopped")
	return errors.Join(errs...)
}

// Node exposes the bridge's tick as a go-behaviortree node. It reports
// Running even after a fatal failure, so the bridge stops streaming without
// stopping the tickers managed alongside it.
func (b *Bridge) Node() bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		b.Tick()
		return bt.Running, nil
	})
}

// NewTicker ticks b every period until ctx is done or the ticker is
// stopped.
func (b *Bridge) NewTicker(ctx context.Context) bt.Ticker {
	return bt.NewTicker(ctx, b.period, b.Node())
}
