package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/joeycumines/toolbt/internal/config"
	"github.com/joeycumines/toolbt/internal/eventlog"
)

// configured carries the loaded configuration into a command.
type configured struct {
	config *config.Config
	schema *config.ConfigSchema
}

func (c configured) settings() config.Settings { return c.schema.Settings(c.config) }

// ValidateCommand loads a tool document and reports its configuration and
// binding errors.
type ValidateCommand struct {
	*BaseCommand
	configured
	tool toolFlag
}

// NewValidateCommand creates a new validate command.
func NewValidateCommand(cfg *config.Config, schema *config.ConfigSchema) *ValidateCommand {
	return &ValidateCommand{
		BaseCommand: NewBaseCommand(
			"validate",
			"Check a tool document and the bindings of its behaviors",
			"validate [-tool file]",
		),
		configured: configured{config: cfg, schema: schema},
	}
}

func (c *ValidateCommand) SetupFlags(fs *flag.FlagSet) { c.tool.setup(fs) }

func (c *ValidateCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	s := c.settings()
	path, err := c.tool.resolve(s)
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(s, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	s.EventLogPath = ""
	e, err := openEngine(ctx, s, logger, engineOptions{toolFile: path})
	if err != nil {
		return err
	}
	defer e.Close()

	var issues []string
	if e.docErr != nil {
		for _, err := range unjoin(e.docErr) {
			issues = append(issues, err.Error())
		}
	}
	for _, tree := range e.orch.Behaviors() {
		for _, err := range tree.BindingErrors() {
			issues = append(issues, tree.String()+": "+err.Error())
		}
	}
	if len(issues) == 0 {
		_, _ = fmt.Fprintf(stdout, "%s is valid: %d behavior(s).\n", path, len(e.orch.Behaviors()))
		return nil
	}
	_, _ = fmt.Fprintf(stdout, "%s has %d issue(s):\n", path, len(issues))
	for _, issue := range issues {
		_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
	}
	return fmt.Errorf("%s: %d issue(s)", path, len(issues))
}

// unjoin splits the errors.Join inside err, if any.
func unjoin(err error) []error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if j, ok := e.(interface{ Unwrap() []error }); ok {
			return j.Unwrap()
		}
	}
	return []error{err}
}

// PinsCommand lists the pins the configured bus exposes.
type PinsCommand struct {
	*BaseCommand
	configured
}

// NewPinsCommand creates a new pins command.
func NewPinsCommand(cfg *config.Config, schema *config.ConfigSchema) *PinsCommand {
	return &PinsCommand{
		BaseCommand: NewBaseCommand(
			"pins",
			"List the pins of the configured bus",
			"pins",
		),
		configured: configured{config: cfg, schema: schema},
	}
}

func (c *PinsCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	s := c.settings()
	logger, closer, err := newLogger(s, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	bus, busCloser, err := openBus(ctx, s.Bus, s.Pins, logger)
	if err != nil {
		return err
	}
	defer busCloser.Close()
	pins, err := bus.Pins(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tDIR")
	for _, p := range pins {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Type, p.Direction)
	}
	return w.Flush()
}

// QueryCommand evaluates an expression against a tool document's launch
// state.
type QueryCommand struct {
	*BaseCommand
	configured
	tool toolFlag
}

// NewQueryCommand creates a new query command.
func NewQueryCommand(cfg *config.Config, schema *config.ConfigSchema) *QueryCommand {
	return &QueryCommand{
		BaseCommand: NewBaseCommand(
			"query",
			"Evaluate an expression against a tool document",
			"query [-tool file] <expr>",
		),
		configured: configured{config: cfg, schema: schema},
	}
}

func (c *QueryCommand) SetupFlags(fs *flag.FlagSet) { c.tool.setup(fs) }

func (c *QueryCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing expression")
	}
	s := c.settings()
	path, err := c.tool.resolve(s)
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(s, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	s.EventLogPath = ""
	e, err := openEngine(ctx, s, logger, engineOptions{toolFile: path})
	if err != nil {
		return err
	}
	defer e.Close()
	v, err := e.orch.Query(strings.Join(args, " "))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "%v\n", v)
	return nil
}

// AlertsCommand lists the alert and action history of an event log.
type AlertsCommand struct {
	*BaseCommand
	configured
	all     bool
	actions int
}

// NewAlertsCommand creates a new alerts command.
func NewAlertsCommand(cfg *config.Config, schema *config.ConfigSchema) *AlertsCommand {
	return &AlertsCommand{
		BaseCommand: NewBaseCommand(
			"alerts",
			"Show alerts and recent actions from the event log",
			"alerts [options]",
		),
		configured: configured{config: cfg, schema: schema},
	}
}

func (c *AlertsCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.all, "all", false, "Include cleared alerts")
	fs.IntVar(&c.actions, "actions", 0, "Also show this many recent actions")
}

func (c *AlertsCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	s := c.settings()
	if s.EventLogPath == "" {
		return errors.New("eventlog.path is not set")
	}
	logger, closer, err := newLogger(s, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	store, err := eventlog.Open(eventlog.Config{Path: s.EventLogPath, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	alerts, err := store.Alerts(ctx, !c.all)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RAISED\tTYPE\tSYSTEM\tDEVICE\tSTATE\tTEXT")
	for _, a := range alerts {
		state := "active"
		if !a.Active() {
			state = "cleared"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.RaisedAt.Local().Format("2006-01-02 15:04:05"), a.Type, a.System, a.Device, state, a.Text)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if c.actions <= 0 {
		return nil
	}
	actions, err := store.Actions(ctx, c.actions)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, "")
	for _, a := range actions {
		_, _ = fmt.Fprintf(stdout, "%s %s: %s\n", a.At.Local().Format("2006-01-02 15:04:05"), a.User, a.Action)
	}
	return nil
}
