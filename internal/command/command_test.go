package command

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joeycumines/toolbt/internal/config"
	"github.com/joeycumines/toolbt/internal/eventlog"
	"github.com/joeycumines/toolbt/internal/persist"
	"github.com/joeycumines/toolbt/internal/tst"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const rigDocument = `{
  "type_info": "Tool",
  "name": "Rig",
  "children": [
    {"type_info": "FloatVariable", "name": "Target", "value": 1, "launch_value": 2, "use_launch_value": true, "user_manual_set": false},
    {
      "type_info": "System",
      "name": "Chamber",
      "is_online": false,
      "device_manual_control": true,
      "children": [
        {
          "type_info": "Device",
          "name": "Pump",
          "states": ["Off", "On"],
          "state": "Off",
          "children": [
            {"type_info": "AnalogOutput", "name": "Speed", "hal_pin": "pump.speed", "min": 0, "max": 100}
          ],
          "behaviors": [
            {"type_info": "RootSequence", "name": "Start", "user_visible": true, "children": [
              {"type_info": "SetDeviceState", "state": "On"},
              {"type_info": "Set", "children": [
                {"type_info": "Setpoint", "target": "Chamber/Pump/Speed", "set_type": "Value|Equal", "value": 40}
              ]}
            ]}
          ]
        }
      ]
    }
  ]
}`

const brokenDocument = `{
  "type_info": "Tool",
  "name": "Rig",
  "children": [],
  "behaviors": [
    {"type_info": "RootSequence", "name": "Lost", "user_visible": true, "children": [
      {"type_info": "Set", "children": [
        {"type_info": "Setpoint", "target": "Nowhere/Speed", "set_type": "Value|Equal", "value": 1}
      ]}
    ]}
  ]
}`

// rig is a config file and a tool document in a temporary directory.
type rig struct {
	dir        string
	toolFile   string
	configPath string
	eventLog   string
	cfg        *config.Config
	registry   *Registry
}

func newRig(t *testing.T, document, extraConfig string) *rig {
	t.Helper()
	dir := t.TempDir()
	r := &rig{
		dir:        dir,
		toolFile:   filepath.Join(dir, "tool.json"),
		configPath: filepath.Join(dir, "config"),
		eventLog:   filepath.Join(dir, "events.db"),
	}
	require.NoError(t, os.WriteFile(r.toolFile, []byte(document), 0o644))
	text := strings.Join([]string{
		"tool.file " + r.toolFile,
		"runner.periods 5ms",
		"bridge.periods 5ms",
		"eventlog.path " + r.eventLog,
		"log.level warn",
		"[pins]",
		"pump.speed float out",
		"chamber.pressure float in",
	}, "\n") + "\n" + extraConfig
	require.NoError(t, os.WriteFile(r.configPath, []byte(text), 0o644))
	var err error
	r.cfg, err = config.LoadFromPath(r.configPath)
	require.NoError(t, err)
	r.registry = NewBuiltinRegistry(r.cfg, r.configPath, "1.2.3")
	return r
}

func (r *rig) dispatch(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := r.registry.Dispatch(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRegistry_Dispatch(t *testing.T) {
	r := newRig(t, rigDocument, "")

	out, _, err := r.dispatch(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage: toolbt <command>")
	for _, name := range []string{"alerts", "config", "help", "init", "pins", "query", "run", "script", "validate", "version"} {
		assert.Contains(t, out, "  "+name+" ")
	}

	_, stderr, err := r.dispatch(t, "frobnicate")
	require.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	_, stderr, err = r.dispatch(t, "run", "-bogus")
	require.Error(t, err)
	assert.Contains(t, stderr, "flag provided but not defined: -bogus")

	_, stderr, err = r.dispatch(t, "run", "-h")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Usage: run [options]")
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(NewVersionCommand("x"))
	r.Register(NewHelpCommand(r))
	assert.Equal(t, []string{"help", "version"}, r.List())
}

func TestHelpCommand_ShowsFlags(t *testing.T) {
	r := newRig(t, rigDocument, "")
	out, _, err := r.dispatch(t, "help", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "Command: run\n")
	assert.Contains(t, out, "Flags:\n")
	assert.Contains(t, out, "-start value")
	assert.Contains(t, out, "-duration duration")
}

func TestVersionCommand(t *testing.T) {
	r := newRig(t, rigDocument, "")
	out, _, err := r.dispatch(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "toolbt version 1.2.3\n", out)
	_, _, err = r.dispatch(t, "version", "extra")
	require.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	r := newRig(t, rigDocument, "[run]\nduration soon\n")

	out, _, err := r.dispatch(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "  runner.periods: 5ms\n")
	assert.Contains(t, out, "[run]\n  duration: soon\n")
	assert.Contains(t, out, "[pins]\n  pump.speed float out\n")

	out, _, err = r.dispatch(t, "config", "bridge.queue-size")
	require.NoError(t, err)
	assert.Equal(t, "bridge.queue-size: 256\n", out)

	out, _, err = r.dispatch(t, "config", "-section", "run", "save")
	require.NoError(t, err)
	assert.Equal(t, "save: false\n", out)

	out, _, err = r.dispatch(t, "config", "nope")
	require.NoError(t, err)
	assert.Equal(t, "Configuration key 'nope' not found\n", out)

	out, _, err = r.dispatch(t, "config", "validate")
	require.NoError(t, err)
	assert.Equal(t, "Configuration has 1 issue(s):\n  - option \"duration\" in [run]: expected duration, got \"soon\"\n", out)

	out, _, err = r.dispatch(t, "config", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "[run] Options:")

	out, _, err = r.dispatch(t, "config", "-all")
	require.NoError(t, err)
	assert.Contains(t, out, "  bus.mode: mem\n")
	assert.Contains(t, out, "[run]\n")

	out, _, err = r.dispatch(t, "config", "log.level", "debug")
	require.NoError(t, err)
	assert.Equal(t, "Set configuration: log.level = debug\n", out)
	data, err := os.ReadFile(r.configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "log.level debug\n")
	assert.NotContains(t, string(data), "log.level warn")
}

func TestInitCommand(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "config")
	cmd := NewInitCommand(path)
	var out bytes.Buffer
	require.NoError(t, cmd.Execute(context.Background(), nil, &out, &out))
	assert.Equal(t, "Initialized toolbt configuration at: "+path+"\n", out.String())

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings)
	assert.Equal(t, "mem", cfg.Global["bus.mode"])

	out.Reset()
	require.NoError(t, cmd.Execute(context.Background(), nil, &out, &out))
	assert.Contains(t, out.String(), "Configuration already exists at: "+path)
}

func TestValidateCommand(t *testing.T) {
	r := newRig(t, rigDocument, "")
	out, _, err := r.dispatch(t, "validate")
	require.NoError(t, err)
	assert.Equal(t, r.toolFile+" is valid: 1 behavior(s).\n", out)

	broken := filepath.Join(r.dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(brokenDocument), 0o644))
	out, _, err = r.dispatch(t, "validate", "-tool", broken)
	require.Error(t, err)
	assert.Contains(t, out, broken+" has 1 issue(s):\n")
	assert.Contains(t, out, ":Lost: ")
	assert.Contains(t, out, "Nowhere/Speed")
}

func TestValidateCommand_NoToolFile(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cmd := NewValidateCommand(cfg, config.DefaultSchema())
	err := cmd.Execute(context.Background(), nil, new(bytes.Buffer), new(bytes.Buffer))
	if os.Getenv("TOOLBT_TOOL_FILE") == "" {
		require.ErrorIs(t, err, ErrNoToolFile)
	}
}

func TestPinsCommand(t *testing.T) {
	r := newRig(t, rigDocument, "")
	out, _, err := r.dispatch(t, "pins")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"NAME              TYPE   DIR",
		"pump.speed        float  out",
		"chamber.pressure  float  in",
		"",
	}, "\n"), out)
}

func TestQueryCommand(t *testing.T) {
	r := newRig(t, rigDocument, "")
	out, _, err := r.dispatch(t, "query", `Target * 2 + len(Chamber.Pump._state)`)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)

	_, _, err = r.dispatch(t, "query")
	require.Error(t, err)
	_, _, err = r.dispatch(t, "query", "Target", "+")
	require.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	r := newRig(t, rigDocument, "")
	out, _, err := r.dispatch(t, "run", "-start", "Chamber/Pump:Start", "-duration", "300ms", "-save")
	require.NoError(t, err)
	assert.Contains(t, out, "runner 0: ")
	assert.Contains(t, out, " 0 running\n")

	_, err = os.Stat(r.toolFile + ".lock")
	assert.True(t, os.IsNotExist(err), "lock released")

	doc, err := persist.Load(r.toolFile)
	require.NoError(t, err)
	pump := doc.Tool.Lookup("Chamber/Pump")
	assert.Equal(t, "On", doc.Tool.Get(pump, tst.ColState))

	store, err := eventlog.Open(eventlog.Config{Path: r.eventLog})
	require.NoError(t, err)
	defer store.Close()
	actions, err := store.Actions(context.Background(), 0)
	require.NoError(t, err)
	var texts []string
	for _, a := range actions {
		texts = append(texts, a.Action)
	}
	assert.Contains(t, texts, "start behavior Chamber/Pump:Start")
	assert.Contains(t, texts, "behavior finished: Chamber/Pump:Start success")
}

func TestRunCommand_BadStart(t *testing.T) {
	r := newRig(t, rigDocument, "")
	_, _, err := r.dispatch(t, "run", "-start", "Chamber/Pump")
	require.ErrorContains(t, err, "want path:behavior")
	_, _, err = r.dispatch(t, "run", "-start", "Chamber/Pump:Missing", "-duration", "10ms")
	require.ErrorContains(t, err, "unknown behavior")
}

func TestRunCommand_StartFromConfig(t *testing.T) {
	r := newRig(t, rigDocument, "[run]\nstart Chamber/Pump:Start\nduration 200ms\nsave true\n")
	_, _, err := r.dispatch(t, "run")
	require.NoError(t, err)
	doc, err := persist.Load(r.toolFile)
	require.NoError(t, err)
	assert.Equal(t, "On", doc.Tool.Get(doc.Tool.Lookup("Chamber/Pump"), tst.ColState))
}

func TestScriptCommand(t *testing.T) {
	r := newRig(t, rigDocument, "")
	script := filepath.Join(r.dir, "start.js")
	require.NoError(t, os.WriteFile(script, []byte(`
		engine.start("Chamber/Pump", "Start");
		engine.waitFor('Chamber.Pump._state == "On"', 2000);
		output.print("pump", engine.get("Chamber/Pump", "state"));
	`), 0o644))
	out, _, err := r.dispatch(t, "script", script)
	require.NoError(t, err)
	assert.Equal(t, "pump On\n", out)

	out, _, err = r.dispatch(t, "script", "-e", `output.print(engine.query("Target"))`)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, _, err = r.dispatch(t, "script", "-e", `throw new Error("boom")`)
	require.ErrorContains(t, err, "boom")

	_, _, err = r.dispatch(t, "script")
	require.Error(t, err)
}

func TestSplitStart(t *testing.T) {
	t.Parallel()
	path, name, err := splitStart("Chamber/Pump:Start")
	require.NoError(t, err)
	assert.Equal(t, "Chamber/Pump", path)
	assert.Equal(t, "Start", name)

	path, name, err = splitStart(":Kick")
	require.NoError(t, err)
	assert.Equal(t, "", path)
	assert.Equal(t, "Kick", name)

	_, _, err = splitStart("Kick:")
	require.Error(t, err)
}

func TestNewExecBus_CommandLines(t *testing.T) {
	t.Parallel()
	b, err := newExecBus(config.BusSettings{
		HalCmd:      "sudo halcmd",
		HalSampler:  `/opt/hal/halsampler -c "chan 0"`,
		HalStreamer: "",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sudo", b.Halcmd)
	assert.Equal(t, []string{"halcmd"}, b.HalcmdArgs)
	assert.Equal(t, "/opt/hal/halsampler", b.Halsampler)
	assert.Equal(t, []string{"-t", "-c", "chan 0"}, b.SamplerArgs)
	assert.Equal(t, "halstreamer", b.Halstreamer)
	assert.Empty(t, b.StreamerArgs)

	_, err = newExecBus(config.BusSettings{HalSampler: `"halsampler`}, nil)
	require.ErrorContains(t, err, "bus.halsampler")
}
