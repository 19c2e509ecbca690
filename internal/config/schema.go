package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString OptionType = "string"
	// TypeBool accepts true/false/yes/no/1/0/on/off.
	TypeBool OptionType = "bool"
	TypeInt  OptionType = "int"
	// TypeDuration is a time.Duration, e.g. "50ms".
	TypeDuration OptionType = "duration"
	// TypeDurationList is a comma separated list of positive durations.
	TypeDurationList OptionType = "duration-list"
	// TypeEnum accepts one of ConfigOption.Values.
	TypeEnum OptionType = "enum"
)

// ConfigOption declares one option.
type ConfigOption struct {
	Key         string
	Type        OptionType
	Default     string
	Description string
	// Section is "" for global options, or a command name.
	Section string
	// EnvVar overrides the configured value when set.
	EnvVar string
	Values  []string
}

// ConfigSchema is the set of known options.
type ConfigSchema struct {
	options   []*ConfigOption
	bySection map[string]map[string]*ConfigOption
}

// NewSchema returns an empty schema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{bySection: make(map[string]map[string]*ConfigOption)}
}

// Register adds opt, replacing any option with the same section and key.
func (s *ConfigSchema) Register(opts ...ConfigOption) {
	for _, opt := range opts {
		ref := new(ConfigOption)
		*ref = opt
		s.options = append(s.options, ref)
		if s.bySection[opt.Section] == nil {
			s.bySection[opt.Section] = make(map[string]*ConfigOption)
		}
		s.bySection[opt.Section][opt.Key] = ref
	}
}

// Lookup returns the option for key in section ("" for global), or nil.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	return s.bySection[section][key]
}

// Options returns the options of one section in registration order.
func (s *ConfigSchema) Options(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted names of the non-global sections.
func (s *ConfigSchema) Sections() []string {
	out := make([]string, 0, len(s.bySection))
	for sec := range s.bySection {
		if sec != "" {
			out = append(out, sec)
		}
	}
	sort.Strings(out)
	return out
}

// Resolve returns the effective value of an option: its environment
// variable, then the configured value, then the default. Command options
// fall back to a global option of the same key.
func (s *ConfigSchema) Resolve(c *Config, section, key string) string {
	opt := s.Lookup(section, key)
	if opt == nil && section != "" {
		opt = s.Lookup("", key)
	}
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetCommandOption(section, key); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ValidateConfig returns the sorted list of unknown options and type
// mismatches in c.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string
	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := opt.validate(value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}
	for section, opts := range c.Commands {
		if _, ok := s.bySection[section]; !ok {
			issues = append(issues, fmt.Sprintf("unknown section: [%s]", section))
			continue
		}
		for key, value := range opts {
			opt := s.Lookup(section, key)
			if opt == nil {
				opt = s.Lookup("", key)
			}
			if opt == nil {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
				continue
			}
			if err := opt.validate(value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}
	if mode := s.Resolve(c, "", "bus.mode"); mode == BusSerial || mode == BusTCP {
		if d, err := parseDurations(s.Resolve(c, "", "bridge.periods")); err == nil && len(d) > 1 {
			issues = append(issues, fmt.Sprintf("bus.mode %s supports a single bridge: bridge.periods lists %d periods, only the first is used", mode, len(d)))
		}
	}
	sort.Strings(issues)
	return issues
}

func (o *ConfigOption) validate(value string) error {
	switch o.Type {
	case TypeString, "":
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	case TypeDurationList:
		if _, err := parseDurations(value); err != nil {
			return err
		}
	case TypeEnum:
		for _, v := range o.Values {
			if v == value {
				return nil
			}
		}
		return fmt.Errorf("expected one of %s, got %q", strings.Join(o.Values, ", "), value)
	default:
		return fmt.Errorf("unknown option type %q", o.Type)
	}
	return nil
}

func parseDurations(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("expected positive durations, got %q", s)
		}
		out = append(out, d)
	}
	return out, nil
}

// FormatHelp renders every option, grouped by section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	b.WriteString("Global Options:\n")
	for _, o := range s.Options("") {
		writeOptionHelp(&b, o)
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.Options(sec) {
			writeOptionHelp(&b, o)
		}
	}
	b.WriteString("\n[" + PinsSection + "]\n  <name> <bit|s32|u32|float> <in|out>\n")
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-24s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		if o.Type == TypeEnum {
			parts = append(parts, "one of: "+strings.Join(o.Values, "|"))
		} else {
			parts = append(parts, "type: "+string(o.Type))
		}
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// Bus modes.
const (
	BusMem    = "mem"
	BusExec   = "exec"
	BusSerial = "serial"
	BusTCP    = "tcp"
)

// DefaultSchema declares every toolbt option.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.Register(
		ConfigOption{Key: "tool.file", Description: "Tool document, JSON or YAML", EnvVar: "TOOLBT_TOOL_FILE"},
		ConfigOption{Key: "runner.periods", Type: TypeDurationList, Default: "100ms", Description: "Tick period of each behavior runner"},
		ConfigOption{Key: "runner.telemetry-size", Type: TypeInt, Default: "1000", Description: "Tick times kept per runner"},
		ConfigOption{Key: "bridge.periods", Type: TypeDurationList, Default: "50ms", Description: "Tick period of each I/O bridge"},
		ConfigOption{Key: "bridge.queue-size", Type: TypeInt, Default: "256", Description: "Sampler lines buffered per bridge"},
		ConfigOption{Key: "bus.mode", Type: TypeEnum, Default: BusMem, Values: []string{BusMem, BusExec, BusSerial, BusTCP}, Description: "Pin bus transport", EnvVar: "TOOLBT_BUS"},
		ConfigOption{Key: "bus.halcmd", Default: "halcmd", Description: "Pin listing command line (exec mode)"},
		ConfigOption{Key: "bus.halsampler", Default: "halsampler", Description: "Sampler command line, run with -t (exec mode)"},
		ConfigOption{Key: "bus.halstreamer", Default: "halstreamer", Description: "Streamer command line (exec mode)"},
		ConfigOption{Key: "bus.serial.port", Description: "Serial device (serial mode)"},
		ConfigOption{Key: "bus.serial.baud", Type: TypeInt, Default: "115200", Description: "Serial baud rate"},
		ConfigOption{Key: "bus.tcp.address", Description: "host:port of the pin server (tcp mode)"},
		ConfigOption{Key: "eventlog.path", Description: "SQLite alert and action log, empty for in-memory", EnvVar: "TOOLBT_EVENTLOG"},
		ConfigOption{Key: "query.cache-size", Type: TypeInt, Default: "256", Description: "Compiled queries kept"},
		ConfigOption{Key: "log.level", Type: TypeEnum, Default: "info", Values: []string{"debug", "info", "warn", "error"}, Description: "Log level", EnvVar: "TOOLBT_LOG_LEVEL"},
		ConfigOption{Key: "log.file", Description: "JSON log file, in addition to stderr", EnvVar: "TOOLBT_LOG_FILE"},
		ConfigOption{Key: "log.max-size-mb", Type: TypeInt, Default: "10", Description: "Log file size that triggers rotation"},
		ConfigOption{Key: "log.max-files", Type: TypeInt, Default: "5", Description: "Rotated log files kept"},

		ConfigOption{Key: "start", Section: "run", Description: "Comma separated path:behavior list started on launch"},
		ConfigOption{Key: "duration", Section: "run", Type: TypeDuration, Description: "Stop after this long"},
		ConfigOption{Key: "save", Section: "run", Type: TypeBool, Default: "false", Description: "Write the tool document back on exit"},
	)
	return s
}
