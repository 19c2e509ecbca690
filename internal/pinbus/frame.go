package pinbus

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSample parses one sampler frame, "<id> <v0> ... <vN-1>", against a
// cfg string. Every value is returned as a float64.
func ParseSample(line, cfg string) (uint64, []float64, error) {
	fields := strings.Fields(line)
	if len(fields) != len(cfg)+1 {
		return 0, nil, fmt.Errorf("pinbus: frame has %d values, cfg %q wants %d", max(len(fields)-1, 0), cfg, len(cfg))
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("pinbus: bad sample id %q: %w", fields[0], err)
	}
	values, err := parseValues(fields[1:], cfg)
	if err != nil {
		return 0, nil, err
	}
	return id, values, nil
}

// ParseFrame parses one streamer frame, which carries no sample id.
func ParseFrame(line, cfg string) ([]float64, error) {
	fields := strings.Fields(line)
	if len(fields) != len(cfg) {
		return nil, fmt.Errorf("pinbus: frame has %d values, cfg %q wants %d", len(fields), cfg, len(cfg))
	}
	return parseValues(fields, cfg)
}

func parseValues(fields []string, cfg string) ([]float64, error) {
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := ParseValue(cfg[i], f)
		if err != nil {
			return nil, fmt.Errorf("pinbus: column %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

// ParseValue parses a single value by its cfg character.
func ParseValue(c byte, s string) (float64, error) {
	switch c {
	case 'b':
		switch s {
		case "0":
			return 0, nil
		case "1":
			return 1, nil
		}
		return 0, fmt.Errorf("bad bit %q", s)
	case 's':
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, err
		}
		return float64(v), nil
	case 'u':
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, err
		}
		return float64(v), nil
	case 'f':
		return strconv.ParseFloat(s, 64)
	}
	return 0, fmt.Errorf("unknown cfg character %q", c)
}

// FormatValue renders v by its cfg character. Integers are truncated and
// saturated to their range, floats always carry a decimal point.
func FormatValue(c byte, v float64) string {
	switch c {
	case 'b':
		if v != 0 {
			return "1"
		}
		return "0"
	case 's':
		if math.IsNaN(v) {
			return "0"
		}
		return strconv.FormatInt(int64(min(max(v, math.MinInt32), math.MaxInt32)), 10)
	case 'u':
		if math.IsNaN(v) {
			return "0"
		}
		return strconv.FormatUint(uint64(min(max(v, 0), math.MaxUint32)), 10)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

// EncodeFrame renders a streamer frame including the trailing newline.
func EncodeFrame(cfg string, values []float64) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(' ')
		}
		c := byte('f')
		if i < len(cfg) {
			c = cfg[i]
		}
		b.WriteString(FormatValue(c, v))
	}
	b.WriteByte('\n')
	return b.String()
}

// EncodeSample renders a sampler frame including the trailing newline.
func EncodeSample(id uint64, cfg string, values []float64) string {
	return strconv.FormatUint(id, 10) + " " + EncodeFrame(cfg, values)
}
