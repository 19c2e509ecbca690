package command

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/joeycumines/toolbt/internal/config"
	"github.com/joeycumines/toolbt/internal/persist"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

func (c *HelpCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "toolbt - run behavior trees against a tool's HAL pins")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: toolbt <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'toolbt help <command>' for more information about a specific command (includes flags).")
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: %s\n", cmd.Usage())

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	buf := &bytes.Buffer{}
	fs.SetOutput(buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

func (c *VersionCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	_, _ = fmt.Fprintf(stdout, "toolbt version %s\n", c.version)
	return nil
}

// ConfigCommand shows, validates and edits the configuration.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	schema     *config.ConfigSchema
	configPath string
	section    string
	showAll    bool
}

// NewConfigCommand creates a new config command. With an empty configPath
// the default location is used when setting values.
func NewConfigCommand(cfg *config.Config, schema *config.ConfigSchema, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Manage configuration settings",
			"config [options] [validate|schema|<key> [value]]",
		),
		config:     cfg,
		schema:     schema,
		configPath: configPath,
	}
}

func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.section, "section", "", "Section to get options from, e.g. run")
	fs.BoolVar(&c.showAll, "all", false, "Show every effective option, including defaults")
}

func (c *ConfigCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		if c.showAll {
			c.printEffective(stdout)
			return nil
		}
		c.printConfigured(stdout)
		return nil
	}

	switch args[0] {
	case "validate":
		return c.executeValidate(stdout)
	case "schema":
		_, _ = fmt.Fprint(stdout, c.schema.FormatHelp())
		return nil
	}

	switch len(args) {
	case 1:
		key := args[0]
		if c.schema.Lookup(c.section, key) == nil {
			if _, ok := c.config.GetCommandOption(c.section, key); !ok {
				_, _ = fmt.Fprintf(stdout, "Configuration key '%s' not found\n", key)
				return nil
			}
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", key, c.schema.Resolve(c.config, c.section, key))
		return nil

	case 2:
		if c.section != "" {
			return fmt.Errorf("only global options can be set")
		}
		key, value := args[0], args[1]
		if opt := c.schema.Lookup("", key); opt == nil {
			_, _ = fmt.Fprintf(stderr, "Warning: unknown option %s\n", key)
		}
		c.config.SetGlobalOption(key, value)
		path := c.configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}
		if err := config.SetKeyInFile(path, key, value); err != nil {
			return fmt.Errorf("failed to persist config: %w", err)
		}
		_, _ = fmt.Fprintf(stdout, "Set configuration: %s = %s\n", key, value)
		return nil
	}

	_, _ = fmt.Fprintln(stderr, "Invalid number of arguments")
	return fmt.Errorf("invalid arguments")
}

func (c *ConfigCommand) printConfigured(stdout io.Writer) {
	_, _ = fmt.Fprintln(stdout, "Global configuration:")
	for _, key := range sortedKeys(c.config.Global) {
		_, _ = fmt.Fprintf(stdout, "  %s: %s\n", key, c.config.Global[key])
	}
	sections := make([]string, 0, len(c.config.Commands))
	for s := range c.config.Commands {
		sections = append(sections, s)
	}
	slices.Sort(sections)
	for _, s := range sections {
		_, _ = fmt.Fprintf(stdout, "[%s]\n", s)
		for _, key := range sortedKeys(c.config.Commands[s]) {
			_, _ = fmt.Fprintf(stdout, "  %s: %s\n", key, c.config.Commands[s][key])
		}
	}
	if len(c.config.Pins) > 0 {
		_, _ = fmt.Fprintf(stdout, "[%s]\n", config.PinsSection)
		for _, p := range c.config.Pins {
			_, _ = fmt.Fprintf(stdout, "  %s\n", p)
		}
	}
}

func (c *ConfigCommand) printEffective(stdout io.Writer) {
	for _, section := range append([]string{""}, c.schema.Sections()...) {
		if section != "" {
			_, _ = fmt.Fprintf(stdout, "[%s]\n", section)
		}
		for _, opt := range c.schema.Options(section) {
			_, _ = fmt.Fprintf(stdout, "  %s: %s\n", opt.Key, c.schema.Resolve(c.config, section, opt.Key))
		}
	}
}

func (c *ConfigCommand) executeValidate(stdout io.Writer) error {
	issues := config.ValidateConfig(c.config, c.schema)
	issues = append(issues, c.config.Warnings...)
	issues = slices.Compact(slices.Sorted(slices.Values(issues)))
	if len(issues) == 0 {
		_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
		return nil
	}
	_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
	for _, issue := range issues {
		_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

const defaultConfig = `# toolbt configuration file
# Format: optionName remainingLineIsTheValue
# Run 'toolbt config schema' for every option.

# tool.file /etc/toolbt/tool.yaml
runner.periods 100ms
bridge.periods 50ms
bus.mode mem
log.level info

# Pins served by the in-memory bus: name type direction
[pins]
# chamber.pressure float in
# pump.enable bit out

[run]
save false
`

// InitCommand writes a starter configuration file.
type InitCommand struct {
	*BaseCommand
	configPath string
	force      bool
}

// NewInitCommand creates a new init command writing to configPath, or the
// default location when empty.
func NewInitCommand(configPath string) *InitCommand {
	return &InitCommand{
		BaseCommand: NewBaseCommand(
			"init",
			"Write a starter configuration file",
			"init [options]",
		),
		configPath: configPath,
	}
}

func (c *InitCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.force, "force", false, "Overwrite an existing configuration")
}

func (c *InitCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	path := c.configPath
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil && !c.force {
		_, _ = fmt.Fprintf(stdout, "Configuration already exists at: %s\n", path)
		_, _ = fmt.Fprintln(stdout, "Use -force to overwrite existing configuration")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := persist.WriteFileAtomic(path, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "Initialized toolbt configuration at: %s\n", path)
	return nil
}
