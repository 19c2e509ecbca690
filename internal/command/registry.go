package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"

	"github.com/joeycumines/toolbt/internal/config"
)

// ErrUnknownCommand is returned by Get and Dispatch for a name nothing is
// registered under.
var ErrUnknownCommand = errors.New("unknown command")

// Registry holds the available commands.
type Registry struct {
	commands map[string]Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds cmd, replacing any command of the same name.
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

// Get returns the command registered under name.
func (r *Registry) Get(name string) (Command, error) {
	if cmd, ok := r.commands[name]; ok {
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

// List returns the registered command names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch parses args, the first naming the command, and executes it.
// With no arguments, or -h/--help, it runs the help command.
func (r *Registry) Dispatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		args = []string{"help"}
	}
	cmd, err := r.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		_, _ = fmt.Fprintln(stderr, "Use 'toolbt help' to see available commands.")
		return err
	}

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", cmd.Usage())
		_, _ = fmt.Fprintf(stderr, "\n%s\n\n", cmd.Description())
		_, _ = fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	cmd.SetupFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	return cmd.Execute(ctx, fs.Args(), stdout, stderr)
}

// NewBuiltinRegistry registers every toolbt command. configPath is where
// config and init write, "" for the default location.
func NewBuiltinRegistry(cfg *config.Config, configPath, version string) *Registry {
	schema := config.DefaultSchema()
	r := NewRegistry()
	r.Register(NewHelpCommand(r))
	r.Register(NewVersionCommand(version))
	r.Register(NewConfigCommand(cfg, schema, configPath))
	r.Register(NewInitCommand(configPath))
	r.Register(NewValidateCommand(cfg, schema))
	r.Register(NewPinsCommand(cfg, schema))
	r.Register(NewQueryCommand(cfg, schema))
	r.Register(NewAlertsCommand(cfg, schema))
	r.Register(NewRunCommand(cfg, schema))
	r.Register(NewScriptCommand(cfg, schema))
	return r
}
