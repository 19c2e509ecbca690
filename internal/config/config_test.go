package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/toolbt/internal/pinbus"
)

const sampleConfig = `# rig settings
tool.file /etc/toolbt/rig.yaml
runner.periods 100ms, 250ms
bridge.periods 20ms
bus.mode serial
bus.serial.port /dev/ttyUSB0

[pins]
chamber.pressure float in
pump.enable bit out
pump.speed float io

[run]
start Chamber/Pump:Start, :Idle
duration 1m
`

func TestLoadFromReader(t *testing.T) {
	c, err := LoadFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	assert.Empty(t, c.Warnings)

	v, ok := c.GetGlobalOption("runner.periods")
	assert.True(t, ok)
	assert.Equal(t, "100ms, 250ms", v)

	assert.Equal(t, []pinbus.PinInfo{
		{Name: "chamber.pressure", Type: pinbus.TypeFloat, Direction: pinbus.In},
		{Name: "pump.enable", Type: pinbus.TypeBit, Direction: pinbus.Out},
		{Name: "pump.speed", Type: pinbus.TypeFloat, Direction: pinbus.Out},
	}, c.Pins)

	v, ok = c.GetCommandOption("run", "duration")
	assert.True(t, ok)
	assert.Equal(t, "1m", v)
	v, ok = c.GetCommandOption("run", "bus.mode")
	assert.True(t, ok, "command options fall back to globals")
	assert.Equal(t, "serial", v)
}

func TestLoadFromReader_Warnings(t *testing.T) {
	c, err := LoadFromReader(strings.NewReader(`colour auto
runner.periods fast
bus.mode carrier-pigeon
bridge.queue-size 1.5

[pins]
pump.speed float
[nope]
x 1
[run]
duration soon
`))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`line 7: pinbus: pin spec "pump.speed float": want "name type direction"`,
		`global option "bridge.queue-size": expected int, got "1.5"`,
		`global option "bus.mode": expected one of mem, exec, serial, tcp, got "carrier-pigeon"`,
		`global option "runner.periods": expected positive durations, got "fast"`,
		`option "duration" in [run]: expected duration, got "soon"`,
		`unknown global option: "colour" (value: "auto")`,
		`unknown section: [nope]`,
	}, c.Warnings)
	assert.Empty(t, c.Pins)
}

func TestSettings(t *testing.T) {
	t.Setenv("TOOLBT_LOG_LEVEL", "debug")
	t.Setenv("TOOLBT_TOOL_FILE", "")
	c, err := LoadFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	s := DefaultSchema().Settings(c)

	assert.Equal(t, "", s.ToolFile, "set environment variables win, even when empty")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 250 * time.Millisecond}, s.RunnerPeriods)
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, s.BridgePeriods)
	assert.Equal(t, 1000, s.TelemetrySize)
	assert.Equal(t, 256, s.QueueSize)
	assert.Equal(t, BusSettings{
		Mode:        BusSerial,
		HalCmd:      "halcmd",
		HalSampler:  "halsampler",
		HalStreamer: "halstreamer",
		SerialPort:  "/dev/ttyUSB0",
		SerialBaud:  115200,
	}, s.Bus)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Len(t, s.Pins, 3)
	assert.Equal(t, RunSettings{Start: []string{"Chamber/Pump:Start", ":Idle"}, Duration: time.Minute}, s.Run)
}

func TestSettings_InvalidValuesUseDefaults(t *testing.T) {
	c, err := LoadFromReader(strings.NewReader("runner.periods 0s\nbus.mode x\nbridge.queue-size many\n"))
	require.NoError(t, err)
	s := DefaultSchema().Settings(c)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, s.RunnerPeriods)
	assert.Equal(t, BusMem, s.Bus.Mode)
	assert.Equal(t, 256, s.QueueSize)
}

func TestSettings_StreamBusFeedsOneBridge(t *testing.T) {
	c, err := LoadFromReader(strings.NewReader("bus.mode tcp\nbus.tcp.address rig:7000\nbridge.periods 20ms, 50ms\n"))
	require.NoError(t, err)
	require.Len(t, c.Warnings, 1)
	assert.Contains(t, c.Warnings[0], "bus.mode tcp supports a single bridge")
	assert.Equal(t, c.Warnings, ValidateConfig(c, DefaultSchema()))
	s := DefaultSchema().Settings(c)
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, s.BridgePeriods)

	c, err = LoadFromReader(strings.NewReader("bus.mode mem\nbridge.periods 20ms, 50ms\n"))
	require.NoError(t, err)
	assert.Empty(t, c.Warnings)
	assert.Len(t, DefaultSchema().Settings(c).BridgePeriods, 2)
}

func TestLoadFromPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := LoadFromPath(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, c.Global)

	path := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(path, []byte("tool.file rig.json\n"), 0o644))
	c, err = LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "rig.json", c.Global["tool.file"])

	if runtime.GOOS != "windows" {
		link := filepath.Join(dir, "link")
		require.NoError(t, os.Symlink(path, link))
		_, err = LoadFromPath(link)
		require.ErrorContains(t, err, "symlink")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(ConfigEnv, "/tmp/toolbt-config")
	got, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/toolbt-config", got)

	home := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	} else {
		t.Setenv("HOME", home)
	}
	t.Setenv(ConfigEnv, "")
	got, err = GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".toolbt", "config"), got)
}

func TestSetKeyInFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config")

	require.NoError(t, SetKeyInFile(path, "bus.mode", "tcp"))
	require.NoError(t, SetKeyInFile(path, "log.level", "warn"))
	require.NoError(t, os.WriteFile(path, []byte("# rig\nbus.mode tcp\n\n[run]\nbus.mode exec\n"), 0o644))
	require.NoError(t, SetKeyInFile(path, "bus.mode", "exec"))
	require.NoError(t, SetKeyInFile(path, "eventlog.path", "/var/lib/toolbt/events.db"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# rig\nbus.mode exec\n\neventlog.path /var/lib/toolbt/events.db\n[run]\nbus.mode exec\n", string(data))

	c, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "exec", c.Global["bus.mode"])
}

func TestFormatHelp(t *testing.T) {
	t.Parallel()
	help := DefaultSchema().FormatHelp()
	assert.Contains(t, help, "runner.periods")
	assert.Contains(t, help, "one of: mem|exec|serial|tcp")
	assert.Contains(t, help, "env: TOOLBT_BUS")
	assert.Contains(t, help, "[run] Options:")
	assert.Contains(t, help, "[pins]")
}
