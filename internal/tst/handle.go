package tst

import "fmt"

// Handle identifies an entity in a Tree. The zero value is the null handle.
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether h is non-null. A valid handle may still be stale,
// use Tree.Valid to check that it resolves.
func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string {
	if !h.Valid() {
		return "tst.Handle(null)"
	}
	return fmt.Sprintf("tst.Handle(%d#%d)", h.index, h.gen)
}

// Kind is the entity type of a tree node.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindTool
	KindSystem
	KindDevice
	KindDigitalInput
	KindDigitalOutput
	KindAnalogInput
	KindAnalogOutput
	KindBoolVariable
	KindIntVariable
	KindFloatVariable
)

var kindNames = [...]string{
	KindInvalid:       "Invalid",
	KindTool:          "Tool",
	KindSystem:        "System",
	KindDevice:        "Device",
	KindDigitalInput:  "DigitalInput",
	KindDigitalOutput: "DigitalOutput",
	KindAnalogInput:   "AnalogInput",
	KindAnalogOutput:  "AnalogOutput",
	KindBoolVariable:  "BoolVariable",
	KindIntVariable:   "IntVariable",
	KindFloatVariable: "FloatVariable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsIO reports whether k is one of the four I/O node kinds.
func (k Kind) IsIO() bool {
	return k >= KindDigitalInput && k <= KindAnalogOutput
}

// IsOutput reports whether k is an output I/O node kind.
func (k Kind) IsOutput() bool {
	return k == KindDigitalOutput || k == KindAnalogOutput
}

// IsDigital reports whether k is a digital I/O node kind.
func (k Kind) IsDigital() bool {
	return k == KindDigitalInput || k == KindDigitalOutput
}

// IsVariable reports whether k is a scalar variable kind.
func (k Kind) IsVariable() bool {
	return k >= KindBoolVariable && k <= KindFloatVariable
}

// IsContainer reports whether k can own behaviors (tool, system, device).
func (k Kind) IsContainer() bool {
	return k == KindTool || k == KindSystem || k == KindDevice
}

// KindSet is a bit set of kinds, used for typed descent.
type KindSet uint32

// Kinds builds a KindSet.
func Kinds(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool { return s&(1<<k) != 0 }

var (
	// AllIO matches every I/O node.
	AllIO = Kinds(KindDigitalInput, KindDigitalOutput, KindAnalogInput, KindAnalogOutput)
	// AllVariables matches every scalar variable.
	AllVariables = Kinds(KindBoolVariable, KindIntVariable, KindFloatVariable)
	// AllContainers matches tool, systems and devices.
	AllContainers = Kinds(KindTool, KindSystem, KindDevice)
)

// Column selects one attribute of an entity.
type Column uint8

const (
	ColName Column = iota
	ColValue
	ColValueText
	ColHalValue
	ColHalPin
	ColState
	ColStates
	ColIsOnline
	ColManualControl
	ColRunningBehavior
	ColInfoText
	ColUserManualSet
	ColLaunchValue
	ColUseLaunchValue
	ColMin
	ColMax
	ColUnit
	ColPrecision
	ColRunnerIndex
	ColBridgeIndex
)

var columnNames = [...]string{
	ColName:            "name",
	ColValue:           "value",
	ColValueText:       "value_text",
	ColHalValue:        "hal_value",
	ColHalPin:          "hal_pin",
	ColState:           "state",
	ColStates:          "states",
	ColIsOnline:        "is_online",
	ColManualControl:   "device_manual_control",
	ColRunningBehavior: "running_behavior",
	ColInfoText:        "info_text",
	ColUserManualSet:   "user_manual_set",
	ColLaunchValue:     "launch_value",
	ColUseLaunchValue:  "use_launch_value",
	ColMin:             "min",
	ColMax:             "max",
	ColUnit:            "unit",
	ColPrecision:       "display_digits",
	ColRunnerIndex:     "runner_index",
	ColBridgeIndex:     "bridge_index",
}

func (c Column) String() string {
	if int(c) < len(columnNames) {
		return columnNames[c]
	}
	return fmt.Sprintf("Column(%d)", uint8(c))
}

// ParseColumn returns the column with the given name.
func ParseColumn(name string) (Column, bool) {
	for i, n := range columnNames {
		if n == name {
			return Column(i), true
		}
	}
	return 0, false
}
