package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/joeycumines/toolbt/internal/config"
	"github.com/joeycumines/toolbt/internal/scripting"
)

// ScriptCommand runs a JavaScript file against a running engine. The
// engine stops when the script returns.
type ScriptCommand struct {
	*BaseCommand
	configured
	tool   toolFlag
	inline string
}

// NewScriptCommand creates a new script command.
func NewScriptCommand(cfg *config.Config, schema *config.ConfigSchema) *ScriptCommand {
	return &ScriptCommand{
		BaseCommand: NewBaseCommand(
			"script",
			"Run a JavaScript automation script against the engine",
			"script [options] <file.js>",
		),
		configured: configured{config: cfg, schema: schema},
	}
}

func (c *ScriptCommand) SetupFlags(fs *flag.FlagSet) {
	c.tool.setup(fs)
	fs.StringVar(&c.inline, "e", "", "Evaluate this source instead of a file")
}

func (c *ScriptCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	switch {
	case c.inline == "" && len(args) != 1:
		return errors.New("expected exactly one script file")
	case c.inline != "" && len(args) != 0:
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
	e, err := openEngine(ctx, s, logger, engineOptions{toolFile: path, bus: true, lock: true})
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runEngine(ctx, e) }()

	js := scripting.NewEngine(ctx, e.orch, stdout, logger)
	if c.inline != "" {
		err = js.Run("<inline>", c.inline)
	} else {
		err = js.RunFile(args[0])
	}
	cancel()
	return errors.Join(err, <-done)
}
