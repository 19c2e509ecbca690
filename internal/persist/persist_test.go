package persist

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/toolbt/internal/btm"
	"github.com/joeycumines/toolbt/internal/tst"
)

const sampleDocument = `{
  "type_info": "Tool",
  "name": "Rig",
  "runner_index": 0,
  "children": [
    {"type_info": "BoolVariable", "name": "Armed", "value": true, "launch_value": false, "use_launch_value": false, "user_manual_set": false},
    {"type_info": "IntVariable", "name": "Count", "value": 3, "min": 0, "max": 5, "launch_value": 0, "use_launch_value": false, "user_manual_set": false},
    {
      "type_info": "System",
      "name": "Chamber",
      "is_online": false,
      "device_manual_control": true,
      "children": [
        {"type_info": "FloatVariable", "name": "Target", "value": 2.5, "min": -10, "max": 10, "launch_value": 2.5, "use_launch_value": true, "user_manual_set": false, "unit": "kPa", "display_digits": 1},
        {
          "type_info": "Device",
          "name": "Pump",
          "states": ["Off", "On"],
          "state": "Off",
          "runner_index": 1,
          "icon": {},
          "children": [
            {"type_info": "AnalogInput", "name": "Pressure", "hal_pin": "chamber.pressure", "bridge_index": 0, "calibration_table": [[0, 0], [10, 100]], "unit": "kPa", "display_digits": 1},
            {"type_info": "AnalogOutput", "name": "Speed", "hal_pin": "pump.speed", "bridge_index": 1, "calibration_table": [], "unit": "", "display_digits": 0, "min": 0, "max": 800},
            {"type_info": "DigitalInput", "name": "Running", "hal_pin": "pump.running", "bridge_index": 0, "on_name": "Yes", "off_name": "No"},
            {"type_info": "DigitalOutput", "name": "Enable", "hal_pin": "pump.enable", "bridge_index": 0, "on_name": "On", "off_name": "Off"}
          ],
          "behaviors": [
            {
              "type_info": "RootSequence",
              "name": "Start",
              "tick_period_ms": 100,
              "user_visible": true,
              "description": "start the pump",
              "children": [
                {"type_info": "SetDeviceState", "device": "", "state": "On"},
                {"type_info": "Set", "children": [
                  {"type_info": "Setpoint", "target": "Chamber/Pump/Speed", "set_type": "Value|Equal", "value": 400, "var": ""}
                ]},
                {"type_info": "Wait", "timeout_sec": 5, "children": [
                  {"type_info": "Setpoint", "target": "Chamber/Pump/Pressure", "set_type": "Var|Gte", "var": "Chamber/Target"}
                ]},
                {"type_info": "Repeat", "number_repeats": 2, "ignore_failure": true, "children": [
                  {"type_info": "WaitTime", "wait_time_sec": 0.5}
                ]},
                {"type_info": "AlertSequence", "alert_type": "Warning", "text": "stopping", "children": [
                  {"type_info": "Failure"}
                ]}
              ]
            }
          ]
        }
      ]
    }
  ],
  "behaviors": [
    {"type_info": "RootSequence", "name": "Idle", "tick_period_ms": 0, "user_visible": false, "description": "", "children": [
      {"type_info": "Message", "text": "idle"}
    ]}
  ]
}`

func TestDecode_Sample(t *testing.T) {
	t.Parallel()
	doc, err := Decode([]byte(sampleDocument), JSON)
	require.NoError(t, err)
	tool := doc.Tool

	pump := tool.Lookup("Chamber/Pump")
	require.Equal(t, tst.KindDevice, tool.Kind(pump))
	idx, ok := tool.RunnerIndex(pump)
	require.True(t, ok)
	require.Equal(t, 1, idx)
	require.Equal(t, 1, tool.Get(tool.Lookup("Chamber/Pump/Speed"), tst.ColBridgeIndex))
	require.Equal(t, "No", tool.Get(tool.Lookup("Chamber/Pump/Running"), tst.ColValueText))

	require.Len(t, doc.Behaviors, 2)
	start, idle := doc.Behaviors[0], doc.Behaviors[1]
	require.Equal(t, "Chamber/Pump", start.Target())
	require.Equal(t, "Start", start.Name())
	require.Equal(t, 10, start.Len())
	require.Equal(t, "", idle.Target())

	start.SyncToTool(tool)
	require.Empty(t, start.BindingErrors())
	wait := start.Children(btm.RootID)[2]
	require.Equal(t, btm.Wait{TimeoutSec: 5}, start.Params(wait))
	require.Equal(t, btm.FromVar, start.EffectiveSource(start.Children(wait)[0]))
}

// Persist(load(record)) reproduces the record.
func TestEncode_RoundTrip(t *testing.T) {
	t.Parallel()
	want, err := Unmarshal([]byte(sampleDocument), JSON)
	require.NoError(t, err)
	doc, err := DecodeTool(want)
	require.NoError(t, err)

	for _, f := range []Format{JSON, YAML} {
		data, err := Encode(doc, f)
		require.NoError(t, err)
		again, err := Decode(data, f)
		require.NoError(t, err, f)
		data2, err := Encode(again, JSON)
		require.NoError(t, err)
		got, err := Unmarshal(data2, JSON)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", f, diff)
		}
	}
}

// Attributes written with zero values, and calibration tables out of raw
// order, come back exactly as written.
func TestEncode_RoundTripKeepsWrittenForm(t *testing.T) {
	t.Parallel()
	const document = `{
  "type_info": "Tool",
  "name": "Bench",
  "children": [
    {"type_info": "FloatVariable", "name": "Gain", "value": 0, "launch_value": 0, "use_launch_value": false, "user_manual_set": false, "unit": "", "display_digits": 0},
    {"type_info": "System", "name": "Line", "is_online": false, "device_manual_control": false, "children": [
      {"type_info": "Device", "name": "Valve", "states": [], "state": "", "icon": {}, "children": [
        {"type_info": "AnalogInput", "name": "Flow", "hal_pin": "", "bridge_index": 0, "calibration_table": [[10, 100], [0, 0]], "unit": "", "display_digits": 0},
        {"type_info": "DigitalOutput", "name": "Open", "hal_pin": "", "bridge_index": 0, "on_name": "", "off_name": ""}
      ], "behaviors": [
        {"type_info": "RootSequence", "name": "Check", "tick_period_ms": 0, "user_visible": false, "description": "", "children": [
          {"type_info": "SetDeviceState", "device": "", "state": ""},
          {"type_info": "Tolerance", "timeout_sec": 0, "children": [
            {"type_info": "Tolerancepoint", "target": "Line/Valve/Flow", "reference": "Gain", "scale_type": "Value", "scale": 0, "scale_var": "", "offset_type": "Value", "offset": 0, "offset_var": ""}
          ]},
          {"type_info": "RunBehavior", "children": [
            {"type_info": "RunBehaviorSetpoint", "target": "", "set_type": "NoSet|Equal", "behavior": ""}
          ]},
          {"type_info": "SetIcon", "children": [
            {"type_info": "PropertySetpoint", "device": "", "property": "colour", "set_type": "Value|Equal", "value": 0, "var": ""}
          ]}
        ]}
      ]}
    ]}
  ]
}`
	rec, err := Unmarshal([]byte(document), JSON)
	require.NoError(t, err)
	doc, err := DecodeTool(rec)
	require.NoError(t, err)
	back, err := EncodeTool(doc)
	require.NoError(t, err)
	data, err := Marshal(back, JSON)
	require.NoError(t, err)
	back, err = Unmarshal(data, JSON)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// Integer variables keep full int64 precision through both formats.
func TestEncode_LargeIntegers(t *testing.T) {
	t.Parallel()
	const document = `{"type_info": "Tool", "name": "T", "children": [
		{"type_info": "IntVariable", "name": "Big", "value": 9007199254740993, "min": -9223372036854775808, "max": 9223372036854775807,
		 "launch_value": 9007199254740995, "use_launch_value": false, "user_manual_set": false}
	]}`
	doc, err := Decode([]byte(document), JSON)
	require.NoError(t, err)
	big := doc.Tool.Lookup("Big")
	require.Equal(t, int64(9007199254740993), doc.Tool.Get(big, tst.ColValue))

	for _, f := range []Format{JSON, YAML} {
		data, err := Encode(doc, f)
		require.NoError(t, err)
		assert.Contains(t, string(data), "9007199254740993", f)
		assert.Contains(t, string(data), "9007199254740995", f)
		again, err := Decode(data, f)
		require.NoError(t, err, f)
		cfg := again.Tool.Config(again.Tool.Lookup("Big")).(*tst.IntVariableConfig)
		assert.Equal(t, int64(9007199254740993), cfg.Value, f)
		assert.Equal(t, int64(9007199254740995), cfg.LaunchValue, f)
		require.NotNil(t, cfg.Min, f)
		require.NotNil(t, cfg.Max, f)
		assert.Equal(t, int64(math.MinInt64), *cfg.Min, f)
		assert.Equal(t, int64(math.MaxInt64), *cfg.Max, f)
	}
}

func TestUnmarshal_Numbers(t *testing.T) {
	t.Parallel()
	rec, err := Unmarshal([]byte(`{"i": 9007199254740993, "f": 2.5, "e": 1e3, "n": [-1]}`), JSON)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), rec["i"])
	assert.Equal(t, 2.5, rec["f"])
	assert.Equal(t, 1000.0, rec["e"])
	assert.Equal(t, []any{int64(-1)}, rec["n"])
}

func TestEncode_ByteStable(t *testing.T) {
	t.Parallel()
	doc, err := Decode([]byte(sampleDocument), JSON)
	require.NoError(t, err)
	for _, f := range []Format{JSON, YAML} {
		first, err := Encode(doc, f)
		require.NoError(t, err)
		again, err := Decode(first, f)
		require.NoError(t, err)
		second, err := Encode(again, f)
		require.NoError(t, err)
		require.Equal(t, string(first), string(second), f)
	}
}

func TestDecode_YAML(t *testing.T) {
	t.Parallel()
	doc, err := Decode([]byte(`
type_info: Tool
name: Rig
children:
  - type_info: System
    name: Chamber
    children:
      - type_info: Device
        name: Pump
        states: ["Off", "On"]
        children:
          - type_info: AnalogInput
            name: Pressure
            calibration_table: [[0, 0], [10, 100]]
        behaviors:
          - type_info: RootSequence
            name: Pulse
            children:
              - type_info: WaitTime
                wait_time_sec: 1
`), YAML)
	require.NoError(t, err)
	pressure := doc.Tool.Lookup("Chamber/Pump/Pressure")
	require.NoError(t, doc.Tool.Set(pressure, tst.ColHalValue, 5.0))
	require.Equal(t, 50.0, doc.Tool.Get(pressure, tst.ColValue))
	require.Len(t, doc.Behaviors, 1)
	require.Equal(t, btm.WaitTime{WaitTimeSec: 1}, doc.Behaviors[0].Params(1))
}

func TestDecode_UnknownAttributesIgnored(t *testing.T) {
	t.Parallel()
	doc, err := Decode([]byte(`{"type_info": "Tool", "name": "T", "colour": "red", "children": [
		{"type_info": "System", "name": "S", "legacy_id": 7}
	]}`), JSON)
	require.NoError(t, err)
	require.Equal(t, tst.KindSystem, doc.Tool.Kind(doc.Tool.Lookup("S")))
}

func TestDecode_ConfigurationErrorsSkipSubtree(t *testing.T) {
	t.Parallel()
	doc, err := Decode([]byte(`{"type_info": "Tool", "name": "T", "children": [
		{"type_info": "Sytsem", "name": "Typo", "children": [{"type_info": "Device", "name": "Lost"}]},
		{"type_info": "System", "name": "Good", "children": [
			{"type_info": "AnalogInput", "name": "Misplaced"},
			{"type_info": "Device", "name": "D", "behaviors": [
				{"type_info": "RootSequence", "name": "B", "children": [
					{"type_info": "Setpoint", "target": "Good/D"},
					{"type_info": "Sequence", "children": [{"type_info": "Nope"}]},
					{"type_info": "Success"}
				]},
				{"type_info": "Sequence", "name": "NotARoot"}
			]}
		]},
		{"name": "Untyped"},
		{"type_info": "IntVariable", "name": "N", "value": "three"}
	]}`), JSON)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConfiguration)
	msg := err.Error()
	for _, want := range []string{
		`$.children[0]: unknown type_info "Sytsem"`,
		`$.children[1].children[0]`,
		`$.children[1].children[1].behaviors[0].children[0]`,
		`$.children[1].children[1].behaviors[0].children[1].children[0]: unknown type_info "Nope"`,
		`$.children[1].children[1].behaviors[1]: behavior type_info is "Sequence"`,
		`$.children[2]: missing type_info`,
		`$.children[3]: IntVariable`,
	} {
		assert.Contains(t, msg, want)
	}

	require.NotNil(t, doc)
	tool := doc.Tool
	require.False(t, tool.Valid(tool.Lookup("Typo")))
	require.True(t, tool.Valid(tool.Lookup("Good/D")))
	require.Len(t, doc.Behaviors, 1)
	b := doc.Behaviors[0]
	// root, the empty Sequence and Success
	require.Equal(t, 3, b.Len())
}

func TestDecode_BadRoot(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"type_info": "System", "name": "S"}`), JSON)
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = Decode([]byte(`[1, 2]`), JSON)
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = Decode([]byte(`{`), JSON)
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = Decode([]byte("a: [b"), YAML)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestEncodeTool_OrphanBehaviorUnderRoot(t *testing.T) {
	t.Parallel()
	doc, err := Decode([]byte(sampleDocument), JSON)
	require.NoError(t, err)
	require.NoError(t, doc.Tool.Remove(doc.Tool.Lookup("Chamber/Pump")))
	rec, err := EncodeTool(doc)
	require.NoError(t, err)
	behaviors, err := records(rec[KeyBehaviors])
	require.NoError(t, err)
	require.Len(t, behaviors, 2)
	require.Equal(t, "Start", behaviors[0]["name"])
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	doc, err := Decode([]byte(sampleDocument), JSON)
	require.NoError(t, err)
	dir := t.TempDir()
	for _, name := range []string{"tool.json", "nested/tool.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, doc))
		loaded, err := Load(path)
		require.NoError(t, err)
		require.Len(t, loaded.Behaviors, 2)
		require.Equal(t, int64(3), loaded.Tool.Get(loaded.Tool.Lookup("Count"), tst.ColValue))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp-")
	}

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFormatOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, YAML, FormatOf("a/b.YML"))
	assert.Equal(t, YAML, FormatOf("b.yaml"))
	assert.Equal(t, JSON, FormatOf("b.json"))
	assert.Equal(t, JSON, FormatOf("b"))
}

func TestLockFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tool.json")
	l, err := LockFile(path)
	require.NoError(t, err)
	_, err = LockFile(path)
	require.ErrorIs(t, err, ErrLocked)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	l2, err := LockFile(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
