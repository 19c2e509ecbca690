package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joeycumines/toolbt/internal/pinbus"
)

// Settings are the resolved, typed options.
type Settings struct {
	ToolFile       string
	RunnerPeriods  []time.Duration
	TelemetrySize  int
	BridgePeriods  []time.Duration
	QueueSize      int
	Bus            BusSettings
	EventLogPath   string
	QueryCacheSize int
	LogLevel       string
	LogFile        string
	LogMaxSizeMB   int
	LogMaxFiles    int
	Pins           []pinbus.PinInfo

	Run RunSettings
}

type BusSettings struct {
	Mode        string
	HalCmd      string
	HalSampler  string
	HalStreamer string
	SerialPort  string
	SerialBaud  int
	TCPAddress  string
}

// RunSettings are the [run] options.
type RunSettings struct {
	// Start lists path:behavior pairs.
	Start    []string
	Duration time.Duration
	Save     bool
}

// Settings resolves every option of s against c. Values that fail to parse
// were already reported as warnings and resolve to their default.
func (s *ConfigSchema) Settings(c *Config) Settings {
	str := func(key string) string { return s.Resolve(c, "", key) }
	num := func(section, key string) int {
		if n, err := strconv.Atoi(s.Resolve(c, section, key)); err == nil {
			return n
		}
		n, _ := strconv.Atoi(s.Lookup(section, key).Default)
		return n
	}
	durations := func(key string) []time.Duration {
		if d, err := parseDurations(str(key)); err == nil {
			return d
		}
		d, _ := parseDurations(s.Lookup("", key).Default)
		return d
	}
	enum := func(key string) string {
		v := str(key)
		if s.Lookup("", key).validate(v) != nil {
			return s.Lookup("", key).Default
		}
		return v
	}

	out := Settings{
		ToolFile:      str("tool.file"),
		RunnerPeriods: durations("runner.periods"),
		TelemetrySize: num("", "runner.telemetry-size"),
		BridgePeriods: durations("bridge.periods"),
		QueueSize:     num("", "bridge.queue-size"),
		Bus: BusSettings{
			Mode:        enum("bus.mode"),
			HalCmd:      str("bus.halcmd"),
			HalSampler:  str("bus.halsampler"),
			HalStreamer: str("bus.halstreamer"),
			SerialPort:  str("bus.serial.port"),
			SerialBaud:  num("", "bus.serial.baud"),
			TCPAddress:  str("bus.tcp.address"),
		},
		EventLogPath:   str("eventlog.path"),
		QueryCacheSize: num("", "query.cache-size"),
		LogLevel:       enum("log.level"),
		LogFile:        str("log.file"),
		LogMaxSizeMB:   num("", "log.max-size-mb"),
		LogMaxFiles:    num("", "log.max-files"),
		Pins:           c.Pins,
	}
	// a stream bus has one inbound stream, so it feeds one bridge
	if (out.Bus.Mode == BusSerial || out.Bus.Mode == BusTCP) && len(out.BridgePeriods) > 1 {
		out.BridgePeriods = out.BridgePeriods[:1]
	}
	for _, item := range strings.Split(s.Resolve(c, "run", "start"), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out.Run.Start = append(out.Run.Start, item)
		}
	}
	out.Run.Duration, _ = time.ParseDuration(s.Resolve(c, "run", "duration"))
	out.Run.Save, _ = parseBool(s.Resolve(c, "run", "save"))
	return out
}
