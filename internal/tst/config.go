package tst

import (
	"encoding/json"
	"fmt"
)

// NodeConfig is the construction-time description of one entity. The
// concrete types double as the persisted per-variant record payloads.
type NodeConfig interface {
	Kind() Kind
	nodeName() string
}

// ToolConfig describes the root.
type ToolConfig struct {
	Name        string `json:"name"`
	RunnerIndex *int   `json:"runner_index,omitempty"`
}

// SystemConfig describes a system.
type SystemConfig struct {
	Name                string `json:"name"`
	IsOnline            bool   `json:"is_online"`
	DeviceManualControl bool   `json:"device_manual_control"`
	RunnerIndex         *int   `json:"runner_index,omitempty"`
}

// DeviceConfig describes a device.
type DeviceConfig struct {
	Name        string         `json:"name"`
	States      []string       `json:"states"`
	State       string         `json:"state"`
	RunnerIndex *int           `json:"runner_index,omitempty"`
	Icon        map[string]any `json:"icon"`
}

// DigitalInputConfig describes a digital input.
type DigitalInputConfig struct {
	Name        string `json:"name"`
	HalPin      string `json:"hal_pin"`
	BridgeIndex int    `json:"bridge_index"`
	OnName      string `json:"on_name"`
	OffName     string `json:"off_name"`
}

// DigitalOutputConfig describes a digital output.
type DigitalOutputConfig struct {
	Name        string `json:"name"`
	HalPin      string `json:"hal_pin"`
	BridgeIndex int    `json:"bridge_index"`
	OnName      string `json:"on_name"`
	OffName     string `json:"off_name"`
}

// AnalogInputConfig describes an analog input.
type AnalogInputConfig struct {
	Name          string     `json:"name"`
	HalPin        string     `json:"hal_pin"`
	BridgeIndex   int        `json:"bridge_index"`
	Calibration   []CalPoint `json:"calibration_table"`
	Unit          string     `json:"unit"`
	DisplayDigits int        `json:"display_digits"`
}

// AnalogOutputConfig describes an analog output. Min and Max bound the
// engineering value accepted by writes.
type AnalogOutputConfig struct {
	Name          string     `json:"name"`
	HalPin        string     `json:"hal_pin"`
	BridgeIndex   int        `json:"bridge_index"`
	Calibration   []CalPoint `json:"calibration_table"`
	Unit          string     `json:"unit"`
	DisplayDigits int        `json:"display_digits"`
	Min           float64    `json:"min"`
	Max           float64    `json:"max"`
}

// BoolVariableConfig describes a boolean variable.
type BoolVariableConfig struct {
	Name           string `json:"name"`
	Value          bool   `json:"value"`
	LaunchValue    bool   `json:"launch_value"`
	UseLaunchValue bool   `json:"use_launch_value"`
	UserManualSet  bool   `json:"user_manual_set"`
}

// IntVariableConfig describes an integer variable. Nil bounds are open.
type IntVariableConfig struct {
	Name           string `json:"name"`
	Value          int64  `json:"value"`
	Min            *int64 `json:"min,omitempty"`
	Max            *int64 `json:"max,omitempty"`
	LaunchValue    int64  `json:"launch_value"`
	UseLaunchValue bool   `json:"use_launch_value"`
	UserManualSet  bool   `json:"user_manual_set"`
}

// FloatVariableConfig describes a float variable. Nil bounds are open.
type FloatVariableConfig struct {
	Name           string   `json:"name"`
	Value          float64  `json:"value"`
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	LaunchValue    float64  `json:"launch_value"`
	UseLaunchValue bool     `json:"use_launch_value"`
	UserManualSet  bool     `json:"user_manual_set"`
	Unit           string   `json:"unit"`
	DisplayDigits  int      `json:"display_digits"`
}

func (ToolConfig) Kind() Kind          { return KindTool }
func (SystemConfig) Kind() Kind        { return KindSystem }
func (DeviceConfig) Kind() Kind        { return KindDevice }
func (DigitalInputConfig) Kind() Kind  { return KindDigitalInput }
func (DigitalOutputConfig) Kind() Kind { return KindDigitalOutput }
func (AnalogInputConfig) Kind() Kind   { return KindAnalogInput }
func (AnalogOutputConfig) Kind() Kind  { return KindAnalogOutput }
func (BoolVariableConfig) Kind() Kind  { return KindBoolVariable }
func (IntVariableConfig) Kind() Kind   { return KindIntVariable }
func (FloatVariableConfig) Kind() Kind { return KindFloatVariable }

func (c ToolConfig) nodeName() string          { return c.Name }
func (c SystemConfig) nodeName() string        { return c.Name }
func (c DeviceConfig) nodeName() string        { return c.Name }
func (c DigitalInputConfig) nodeName() string  { return c.Name }
func (c DigitalOutputConfig) nodeName() string { return c.Name }
func (c AnalogInputConfig) nodeName() string   { return c.Name }
func (c AnalogOutputConfig) nodeName() string  { return c.Name }
func (c BoolVariableConfig) nodeName() string  { return c.Name }
func (c IntVariableConfig) nodeName() string   { return c.Name }
func (c FloatVariableConfig) nodeName() string { return c.Name }

// NewConfig returns a pointer to the zero config for kind, suitable as a
// decode target. It returns nil for KindInvalid.
func NewConfig(kind Kind) NodeConfig {
	switch kind {
	case KindTool:
		return &ToolConfig{}
	case KindSystem:
		return &SystemConfig{}
	case KindDevice:
		return &DeviceConfig{}
	case KindDigitalInput:
		return &DigitalInputConfig{}
	case KindDigitalOutput:
		return &DigitalOutputConfig{}
	case KindAnalogInput:
		return &AnalogInputConfig{}
	case KindAnalogOutput:
		return &AnalogOutputConfig{}
	case KindBoolVariable:
		return &BoolVariableConfig{}
	case KindIntVariable:
		return &IntVariableConfig{}
	case KindFloatVariable:
		return &FloatVariableConfig{}
	}
	return nil
}

// ParseKind returns the kind with the given name, as rendered by Kind.String.
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if i != int(KindInvalid) && n == name {
			return Kind(i), true
		}
	}
	return KindInvalid, false
}

// CalPoint is one (raw, engineering) pair of a calibration table. It is
// encoded as a two element array.
type CalPoint struct {
	Raw float64
	Eng float64
}

func (p CalPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Raw, p.Eng})
}

func (p *CalPoint) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("calibration point must have 2 elements, got %d", len(pair))
	}
	p.Raw, p.Eng = pair[0], pair[1]
	return nil
}
