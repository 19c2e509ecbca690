// Package config loads the toolbt configuration file.
//
// The format is line based: `optionName value`, with `#` comments. Options
// before the first `[section]` header are global. The `[pins]` section lists
// the static pin namespace as `name type direction` lines, any other section
// holds options for the command of that name.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joeycumines/toolbt/internal/pinbus"
)

// PinsSection is the section listing static pins.
const PinsSection = "pins"

// Config is a parsed configuration file.
type Config struct {
	// Global options.
	Global map[string]string
	// Commands holds per-command sections.
	Commands map[string]map[string]string
	// Pins is the static pin listing, in file order.
	Pins []pinbus.PinInfo
	// Warnings collects problems found while loading. None of them are
	// fatal.
	Warnings []string
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{
		Global:   make(map[string]string),
		Commands: make(map[string]map[string]string),
	}
}

// Load reads the file named by GetConfigPath.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadFromPath(path)
}

// LoadFromPath reads a configuration file. A missing file yields an empty
// configuration. Symlinks are rejected.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses a configuration. Malformed pin lines, unknown
// options and badly typed values become warnings.
func LoadFromReader(r io.Reader) (*Config, error) {
	c := NewConfig()
	sc := bufio.NewScanner(r)
	section := ""
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if section != PinsSection && c.Commands[section] == nil {
				c.Commands[section] = make(map[string]string)
			}
			continue
		}
		if section == PinsSection {
			pin, err := pinbus.ParsePinInfo(line)
			if err != nil {
				c.addWarning("line %d: %v", lineNo, err)
				continue
			}
			c.Pins = append(c.Pins, pin)
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)
		if section == "" {
			c.Global[key] = value
		} else {
			c.Commands[section][key] = value
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	for _, issue := range ValidateConfig(c, DefaultSchema()) {
		c.addWarning("%s", issue)
	}
	return c, nil
}

func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("[Config] " + msg)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %s", s)
}

// GetGlobalOption returns a global option.
func (c *Config) GetGlobalOption(name string) (string, bool) {
	v, ok := c.Global[name]
	return v, ok
}

// GetCommandOption returns an option of a command section, falling back to
// the global option of the same name.
func (c *Config) GetCommandOption(command, name string) (string, bool) {
	if v, ok := c.Commands[command][name]; ok {
		return v, true
	}
	return c.GetGlobalOption(name)
}

// SetGlobalOption assigns a global option.
func (c *Config) SetGlobalOption(name, value string) {
	c.Global[name] = value
}
