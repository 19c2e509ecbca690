package pinbus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"go.bug.st/serial"
)

// StreamBus carries sampler frames inbound and streamer frames outbound
// over a single byte stream, such as a serial line to a microcontroller or a
// TCP connection to a remote daemon. The pin listing is static.
type StreamBus struct {
	logger *slog.Logger
	pins   []PinInfo
	conn   io.ReadWriteCloser
	wmu    sync.Mutex
	mu     sync.Mutex
	reader bool
	closed bool
}

// NewStreamBus wraps conn. The bus owns conn and closes it in Close.
func NewStreamBus(logger *slog.Logger, conn io.ReadWriteCloser, pins ...PinInfo) *StreamBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamBus{logger: logger, conn: conn, pins: append([]PinInfo(nil), pins...)}
}

// DialSerial opens a serial port at baud, 8N1.
func DialSerial(logger *slog.Logger, port string, baud int, pins ...PinInfo) (*StreamBus, error) {
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	conn, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("pinbus: open serial %s: %w", port, err)
	}
	return NewStreamBus(logger, conn, pins...), nil
}

// DialTCP connects to address.
func DialTCP(ctx context.Context, logger *slog.Logger, address string, pins ...PinInfo) (*StreamBus, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("pinbus: dial %s: %w", address, err)
	}
	return NewStreamBus(logger, conn, pins...), nil
}

func (b *StreamBus) Pins(ctx context.Context) ([]PinInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]PinInfo(nil), b.pins...), nil
}

// OpenSampler returns the inbound side of the connection. Only one sampler
// may be open at a time.
func (b *StreamBus) OpenSampler(ctx context.Context, cfg Config) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.reader {
		return nil, fmt.Errorf("pinbus: stream bus already has a sampler")
	}
	b.reader = true
	b.logger.Debug("[StreamBus] sampler opened", "cfg", cfg.String())
	return streamReader{b}, nil
}

// OpenStreamer returns the outbound side of the connection. Each Write is
// sent atomically with respect to other streamers on the same bus.
func (b *StreamBus) OpenStreamer(ctx context.Context, cfg Config) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.logger.Debug("[StreamBus] streamer opened", "cfg", cfg.String())
	return streamWriter{b}, nil
}

// Close closes the underlying connection, which unblocks any reader.
func (b *StreamBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.conn.Close()
}

type streamReader struct{ b *StreamBus }

func (r streamReader) Read(p []byte) (int, error) { return r.b.conn.Read(p) }

func (r streamReader) Close() error { return r.b.Close() }

type streamWriter struct{ b *StreamBus }

func (w streamWriter) Write(p []byte) (int, error) {
	w.b.wmu.Lock()
	defer w.b.wmu.Unlock()
	return w.b.conn.Write(p)
}

func (w streamWriter) Close() error { return nil }
