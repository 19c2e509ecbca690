package tst

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	tree   *Tree
	system Handle
	device Handle
	ai     Handle
	ao     Handle
	di     Handle
	do     Handle
	fv     Handle
	iv     Handle
	bv     Handle
}

func newSample(t *testing.T) sample {
	t.Helper()
	s := sample{tree: New(ToolConfig{Name: "Tool"})}
	add := func(parent Handle, cfg NodeConfig) Handle {
		h, err := s.tree.Add(parent, cfg)
		require.NoError(t, err)
		return h
	}
	lo, hi := -10.0, 10.0
	var ilo, ihi int64 = 0, 5
	s.system = add(s.tree.Root(), SystemConfig{Name: "Chamber"})
	s.device = add(s.system, DeviceConfig{Name: "Pump", States: []string{"Off", "Starting", "On"}, State: "Off"})
	s.ai = add(s.device, AnalogInputConfig{Name: "Pressure", HalPin: "pump.pressure",
		Calibration: []CalPoint{{0, 0}, {10, 100}}, Unit: "kPa", DisplayDigits: 1})
	s.ao = add(s.device, AnalogOutputConfig{Name: "Speed", HalPin: "pump.speed",
		Calibration: []CalPoint{{0, 0}, {10, 1000}}, Min: 0, Max: 800})
	s.di = add(s.device, DigitalInputConfig{Name: "Running", HalPin: "pump.running", OnName: "Yes", OffName: "No"})
	s.do = add(s.device, DigitalOutputConfig{Name: "Enable", HalPin: "pump.enable"})
	s.fv = add(s.system, FloatVariableConfig{Name: "Target", Min: &lo, Max: &hi, LaunchValue: 2.5, UseLaunchValue: true})
	s.iv = add(s.tree.Root(), IntVariableConfig{Name: "Count", Min: &ilo, Max: &ihi})
	s.bv = add(s.tree.Root(), BoolVariableConfig{Name: "Armed"})
	return s
}

func TestTree_LookupAndPath(t *testing.T) {
	t.Parallel()
	s := newSample(t)

	require.Equal(t, s.tree.Root(), s.tree.Lookup(""))
	require.Equal(t, s.ai, s.tree.Lookup("Chamber/Pump/Pressure"))
	require.Equal(t, s.ai, s.tree.Lookup("/Chamber/Pump/Pressure/"))
	require.False(t, s.tree.Lookup("Chamber/Nope").Valid())
	require.Equal(t, "Chamber/Pump/Pressure", s.tree.Path(s.ai))
	require.Equal(t, "", s.tree.Path(s.tree.Root()))
	require.Equal(t, KindAnalogInput, s.tree.Kind(s.ai))
	require.Equal(t, s.device, s.tree.Parent(s.ai))
	require.Equal(t, s.system, s.tree.Ancestor(s.ai, KindSystem))
	require.Equal(t, s.device, s.tree.Ancestor(s.device, KindDevice))
	require.False(t, s.tree.Ancestor(s.iv, KindDevice).Valid())
}

func TestTree_AddRejectsInvalidParent(t *testing.T) {
	t.Parallel()
	s := newSample(t)

	_, err := s.tree.Add(s.tree.Root(), DeviceConfig{Name: "Loose"})
	require.ErrorIs(t, err, ErrInvalidParent)
	_, err = s.tree.Add(s.system, AnalogInputConfig{Name: "X"})
	require.ErrorIs(t, err, ErrInvalidParent)
	_, err = s.tree.Add(s.ai, BoolVariableConfig{Name: "X"})
	require.ErrorIs(t, err, ErrInvalidParent)
	_, err = s.tree.Add(Handle{}, SystemConfig{Name: "X"})
	require.ErrorIs(t, err, ErrUnresolved)
}

func TestTree_SiblingNamesAreDisambiguated(t *testing.T) {
	t.Parallel()
	s := newSample(t)

	a, err := s.tree.Add(s.system, DeviceConfig{Name: "Pump"})
	require.NoError(t, err)
	b, err := s.tree.Add(s.system, &DeviceConfig{Name: "Pump"})
	require.NoError(t, err)
	require.Equal(t, "Pump_1", s.tree.Name(a))
	require.Equal(t, "Pump_2", s.tree.Name(b))

	name, err := s.tree.Rename(b, "Pump")
	require.NoError(t, err)
	require.Equal(t, "Pump_2", name)

	name, err = s.tree.Rename(a, "Valve")
	require.NoError(t, err)
	require.Equal(t, "Valve", name)
	name, err = s.tree.Rename(b, "Pump_1")
	require.NoError(t, err)
	require.Equal(t, "Pump_1", name)

	// same name on a different parent is fine
	other, err := s.tree.Add(s.tree.Root(), SystemConfig{Name: "Other"})
	require.NoError(t, err)
	d, err := s.tree.Add(other, DeviceConfig{Name: "Pump"})
	require.NoError(t, err)
	require.Equal(t, "Pump", s.tree.Name(d))

	unnamed, err := s.tree.Add(other, DeviceConfig{})
	require.NoError(t, err)
	require.Equal(t, "Device", s.tree.Name(unnamed))
}

func TestTree_RemoveInvalidatesHandles(t *testing.T) {
	t.Parallel()
	s := newSample(t)

	sub, err := s.tree.Subscribe(s.ai, ColHalValue, 1)
	require.NoError(t, err)

	require.NoError(t, s.tree.Remove(s.device))
	require.False(t, s.tree.Valid(s.device))
	require.False(t, s.tree.Valid(s.ai))
	require.Nil(t, s.tree.Get(s.ai, ColValue))
	require.ErrorIs(t, s.tree.Set(s.ai, ColHalValue, 1.0), ErrUnresolved)
	require.Empty(t, s.tree.IndexesOf(AllIO, Handle{}, -1))

	_, open := <-sub.Events()
	require.False(t, open)
	sub.Close()

	// slot reuse does not revive stale handles
	fresh, err := s.tree.Add(s.system, DeviceConfig{Name: "Pump"})
	require.NoError(t, err)
	require.True(t, s.tree.Valid(fresh))
	require.False(t, s.tree.Valid(s.device))
	require.NotEqual(t, s.device, fresh)

	require.ErrorIs(t, s.tree.Remove(s.tree.Root()), ErrNotPermitted)
	require.ErrorIs(t, s.tree.Remove(s.device), ErrUnresolved)
}

func TestTree_IndexesOf(t *testing.T) {
	t.Parallel()
	s := newSample(t)

	require.Equal(t, []Handle{s.ai, s.ao, s.di, s.do}, s.tree.IndexesOf(AllIO, Handle{}, -1))
	require.Equal(t, []Handle{s.ao, s.do}, s.tree.IndexesOf(Kinds(KindAnalogOutput, KindDigitalOutput), s.device, 1))
	require.Equal(t, []Handle{s.fv, s.iv, s.bv}, s.tree.IndexesOf(AllVariables, Handle{}, -1))
	require.Equal(t, []Handle{s.iv, s.bv}, s.tree.IndexesOf(AllVariables, Handle{}, 1))
	require.Equal(t, []Handle{s.system, s.device}, s.tree.IndexesOf(AllContainers, Handle{}, -1))
	require.Empty(t, s.tree.IndexesOf(AllIO, s.system, 1))
}

func TestTree_ConfigExport(t *testing.T) {
	t.Parallel()
	s := newSample(t)

	require.NoError(t, s.tree.Set(s.device, ColState, "On"))
	cfg := s.tree.Config(s.device).(*DeviceConfig)
	require.Equal(t, "Pump", cfg.Name)
	require.Equal(t, "On", cfg.State)
	require.Equal(t, []string{"Off", "Starting", "On"}, cfg.States)

	fv := s.tree.Config(s.fv).(*FloatVariableConfig)
	require.NotNil(t, fv.Min)
	require.Equal(t, -10.0, *fv.Min)
	require.Equal(t, 2.5, fv.LaunchValue)

	ao := s.tree.Config(s.ao).(*AnalogOutputConfig)
	require.Equal(t, 800.0, ao.Max)
	require.Equal(t, []CalPoint{{0, 0}, {10, 1000}}, ao.Calibration)

	require.Nil(t, s.tree.Config(Handle{}))
}

// Exported configs reproduce what was added, not the normalized form.
func TestTree_ConfigExportKeepsWrittenForm(t *testing.T) {
	t.Parallel()
	tree := New(ToolConfig{Name: "Tool"})
	sys, err := tree.Add(tree.Root(), SystemConfig{Name: "S"})
	require.NoError(t, err)
	dev, err := tree.Add(sys, DeviceConfig{Name: "D", States: []string{}})
	require.NoError(t, err)
	ai, err := tree.Add(dev, AnalogInputConfig{Name: "P", Calibration: []CalPoint{{10, 100}, {0, 0}}})
	require.NoError(t, err)
	di, err := tree.Add(dev, DigitalInputConfig{Name: "R"})
	require.NoError(t, err)

	require.Equal(t, []CalPoint{{10, 100}, {0, 0}}, tree.Config(ai).(*AnalogInputConfig).Calibration)
	require.NoError(t, tree.Set(ai, ColHalValue, 5.0))
	require.Equal(t, 50.0, tree.Get(ai, ColValue))

	dc := tree.Config(dev).(*DeviceConfig)
	require.NotNil(t, dc.States)
	require.Empty(t, dc.States)
	require.NotNil(t, dc.Icon)

	dic := tree.Config(di).(*DigitalInputConfig)
	require.Equal(t, "", dic.OnName)
	require.Equal(t, "", dic.OffName)
	require.Equal(t, "Off", tree.Get(di, ColValueText))

	none, err := tree.Add(dev, AnalogInputConfig{Name: "Q"})
	require.NoError(t, err)
	require.Equal(t, []CalPoint{}, tree.Config(none).(*AnalogInputConfig).Calibration)
}

type countingSyncer struct{ n int }

func (c *countingSyncer) SyncToTool(*Tree) { c.n++ }

func TestTree_SyncAfterMutation(t *testing.T) {
	t.Parallel()
	s := newSample(t)
	a, b := new(countingSyncer), new(countingSyncer)
	s.tree.OnSync(a)
	s.tree.OnSync(b)
	s.tree.SyncAfterMutation()
	s.tree.SyncAfterMutation()
	require.Equal(t, 2, a.n)
	require.Equal(t, 2, b.n)
}

func TestTree_Snapshot(t *testing.T) {
	t.Parallel()
	s := newSample(t)
	require.NoError(t, s.tree.Set(s.ai, ColHalValue, 5.0))

	snap := s.tree.Snapshot()
	chamber := snap["Chamber"].(map[string]any)
	pump := chamber["Pump"].(map[string]any)
	require.Equal(t, 50.0, pump["Pressure"])
	require.Equal(t, "Off", pump["_state"])
	require.Equal(t, false, chamber["_online"])
	require.Equal(t, int64(0), snap["Count"])
}
