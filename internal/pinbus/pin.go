// Package pinbus abstracts the hardware daemon's pin namespace: discovery of
// named typed pins, a sampler stream of input frames and a streamer sink for
// output frames.
//
// Frames are single lines of space separated ASCII values, ordered by a cfg
// string with one type character per pin. Sampler frames carry a leading
// sample id, streamer frames do not.
package pinbus

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Type is the value type of a pin.
type Type uint8

const (
	TypeBit Type = iota + 1
	TypeS32
	TypeU32
	TypeFloat
)

func (t Type) String() string {
	switch t {
	case TypeBit:
		return "bit"
	case TypeS32:
		return "s32"
	case TypeU32:
		return "u32"
	case TypeFloat:
		return "float"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Char is the cfg character for t.
func (t Type) Char() byte {
	switch t {
	case TypeBit:
		return 'b'
	case TypeS32:
		return 's'
	case TypeU32:
		return 'u'
	case TypeFloat:
		return 'f'
	}
	return '?'
}

// ParseType accepts the names rendered by Type.String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "bit":
		return TypeBit, nil
	case "s32":
		return TypeS32, nil
	case "u32":
		return TypeU32, nil
	case "float":
		return TypeFloat, nil
	}
	return 0, fmt.Errorf("pinbus: unknown pin type %q", s)
}

// TypeFromChar is the inverse of Type.Char.
func TypeFromChar(c byte) (Type, error) {
	switch c {
	case 'b':
		return TypeBit, nil
	case 's':
		return TypeS32, nil
	case 'u':
		return TypeU32, nil
	case 'f':
		return TypeFloat, nil
	}
	return 0, fmt.Errorf("pinbus: unknown cfg character %q", c)
}

// Direction is the data direction of a pin, from the daemon's point of view.
type Direction uint8

const (
	In Direction = iota + 1
	Out
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// ParseDirection accepts "in" and "out" in any case, and the HAL spelling
// "i/o" which is treated as Out since the engine may drive it.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return In, nil
	case "out", "i/o", "io":
		return Out, nil
	}
	return 0, fmt.Errorf("pinbus: unknown pin direction %q", s)
}

// PinInfo is one discovered pin.
type PinInfo struct {
	Name      string
	Type      Type
	Direction Direction
}

func (p PinInfo) String() string {
	return p.Name + " " + p.Type.String() + " " + p.Direction.String()
}

// ParsePinInfo parses the "name type direction" form produced by String.
func ParsePinInfo(s string) (PinInfo, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return PinInfo{}, fmt.Errorf("pinbus: pin spec %q: want \"name type direction\"", s)
	}
	typ, err := ParseType(fields[1])
	if err != nil {
		return PinInfo{}, err
	}
	dir, err := ParseDirection(fields[2])
	if err != nil {
		return PinInfo{}, err
	}
	return PinInfo{Name: fields[0], Type: typ, Direction: dir}, nil
}

// Config is an ordered selection of pins for a sampler or streamer.
type Config struct {
	Pins []PinInfo
}

// String renders the cfg string, one type character per pin.
func (c Config) String() string {
	b := make([]byte, len(c.Pins))
	for i, p := range c.Pins {
		b[i] = p.Type.Char()
	}
	return string(b)
}

// Names returns the pin names in order.
func (c Config) Names() []string {
	names := make([]string, len(c.Pins))
	for i, p := range c.Pins {
		names[i] = p.Name
	}
	return names
}

// Bus is a pin namespace. Implementations must be safe for concurrent use.
type Bus interface {
	// Pins lists the pins the daemon exposes.
	Pins(ctx context.Context) ([]PinInfo, error)
	// OpenSampler starts streaming sampler frames for cfg. Closing the reader
	// stops the sampler.
	OpenSampler(ctx context.Context, cfg Config) (io.ReadCloser, error)
	// OpenStreamer returns a sink accepting streamer frames for cfg.
	OpenStreamer(ctx context.Context, cfg Config) (io.WriteCloser, error)
}
