package btm

import (
	"fmt"
	"strings"
)

// NodeType tags the variant of a node.
type NodeType uint8

const (
	TypeInvalid NodeType = iota
	TypeRootSequence
	TypeSequence
	TypeSelector
	TypeRepeat
	TypeAlertSequence
	TypeSet
	TypeWait
	TypeTolerance
	TypeWaitTime
	TypeSetDeviceState
	TypeRunBehavior
	TypeWaitState
	TypeSetIcon
	TypeAlert
	TypeMessage
	TypeDialog
	TypeSuccess
	TypeFailure
	TypeSetpoint
	TypeTolerancepoint
	TypeWaitStateSetpoint
	TypeRunBehaviorSetpoint
	TypePropertySetpoint
)

var typeNames = [...]string{
	TypeInvalid:             "Invalid",
	TypeRootSequence:        "RootSequence",
	TypeSequence:            "Sequence",
	TypeSelector:            "Selector",
	TypeRepeat:              "Repeat",
	TypeAlertSequence:       "AlertSequence",
	TypeSet:                 "Set",
	TypeWait:                "Wait",
	TypeTolerance:           "Tolerance",
	TypeWaitTime:            "WaitTime",
	TypeSetDeviceState:      "SetDeviceState",
	TypeRunBehavior:         "RunBehavior",
	TypeWaitState:           "WaitState",
	TypeSetIcon:             "SetIcon",
	TypeAlert:               "Alert",
	TypeMessage:             "Message",
	TypeDialog:              "Dialog",
	TypeSuccess:             "Success",
	TypeFailure:             "Failure",
	TypeSetpoint:            "Setpoint",
	TypeTolerancepoint:      "Tolerancepoint",
	TypeWaitStateSetpoint:   "WaitStateSetpoint",
	TypeRunBehaviorSetpoint: "RunBehaviorSetpoint",
	TypePropertySetpoint:    "PropertySetpoint",
}

func (t NodeType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", uint8(t))
}

// ParseNodeType returns the type with the given name.
func ParseNodeType(name string) (NodeType, bool) {
	for i, n := range typeNames {
		if i != int(TypeInvalid) && n == name {
			return NodeType(i), true
		}
	}
	return TypeInvalid, false
}

// Shape is the structural role of a node type.
type Shape uint8

const (
	Branch Shape = iota + 1
	Leaf
	Property
)

// Shape returns the structural role of t.
func (t NodeType) Shape() Shape {
	switch {
	case t >= TypeRootSequence && t <= TypeAlertSequence:
		return Branch
	case t >= TypeSet && t <= TypeFailure:
		return Leaf
	case t >= TypeSetpoint && t <= TypePropertySetpoint:
		return Property
	}
	return 0
}

// propertyOf is the property type a leaf accepts as children.
func (t NodeType) propertyOf() NodeType {
	switch t {
	case TypeSet, TypeWait:
		return TypeSetpoint
	case TypeTolerance:
		return TypeTolerancepoint
	case TypeWaitState:
		return TypeWaitStateSetpoint
	case TypeRunBehavior:
		return TypeRunBehaviorSetpoint
	case TypeSetIcon:
		return TypePropertySetpoint
	}
	return TypeInvalid
}

// AlertType classifies an alert.
type AlertType uint8

const (
	AlertMessage AlertType = iota
	AlertWarning
	AlertAlarm
)

func (a AlertType) String() string {
	switch a {
	case AlertMessage:
		return "Message"
	case AlertWarning:
		return "Warning"
	case AlertAlarm:
		return "Alarm"
	}
	return fmt.Sprintf("AlertType(%d)", uint8(a))
}

func (a AlertType) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AlertType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "message":
		*a = AlertMessage
	case "warning":
		*a = AlertWarning
	case "alarm":
		*a = AlertAlarm
	default:
		return fmt.Errorf("btm: unknown alert type %q", b)
	}
	return nil
}

// Params is the per-variant configuration of a node. The concrete types
// double as the persisted record payloads.
type Params interface {
	Type() NodeType
}

// RootSequence is the root of every tree. TickPeriodMs is informational, the
// owning runner's period applies.
type RootSequence struct {
	Name         string `json:"name"`
	TickPeriodMs int    `json:"tick_period_ms"`
	UserVisible  bool   `json:"user_visible"`
	Description  string `json:"description"`
}

type Sequence struct{}

type Selector struct{}

// Repeat runs its children as a sequence NumberRepeats+1 times.
type Repeat struct {
	NumberRepeats int  `json:"number_repeats"`
	IgnoreFailure bool `json:"ignore_failure"`
}

// AlertSequence raises an alert on entry and clears it when its children
// succeed.
type AlertSequence struct {
	AlertType AlertType `json:"alert_type"`
	Text      string    `json:"text"`
}

type Set struct{}

// Wait waits for every Setpoint child to be satisfied. A non-positive
// timeout waits indefinitely.
type Wait struct {
	TimeoutSec float64 `json:"timeout_sec"`
}

// Tolerance waits for every Tolerancepoint child to be satisfied.
type Tolerance struct {
	TimeoutSec float64 `json:"timeout_sec"`
}

type WaitTime struct {
	WaitTimeSec float64 `json:"wait_time_sec"`
}

// SetDeviceState writes State to Device, or to the tree's target device
// when Device is empty.
type SetDeviceState struct {
	Device string `json:"device"`
	State  string `json:"state"`
}

type RunBehavior struct{}

// WaitState waits for every WaitStateSetpoint child to be satisfied.
type WaitState struct {
	TimeoutSec float64 `json:"timeout_sec"`
}

type SetIcon struct{}

type Alert struct {
	AlertType AlertType `json:"alert_type"`
	Text      string    `json:"text"`
}

type Message struct {
	Text string `json:"text"`
}

type Dialog struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	AcceptLabel string `json:"accept_label"`
	RejectLabel string `json:"reject_label"`
}

type SuccessLeaf struct{}

type FailureLeaf struct{}

// Setpoint targets one TST value. Target and Var are tool paths.
type Setpoint struct {
	Target  string  `json:"target"`
	SetType SetType `json:"set_type"`
	Value   any     `json:"value,omitempty"`
	Var     string  `json:"var"`
}

// Tolerancepoint is satisfied when |target - reference| < |reference| *
// scale + offset.
type Tolerancepoint struct {
	Target     string  `json:"target"`
	Reference  string  `json:"reference"`
	ScaleType  Source  `json:"scale_type"`
	Scale      float64 `json:"scale"`
	ScaleVar   string  `json:"scale_var"`
	OffsetType Source  `json:"offset_type"`
	Offset     float64 `json:"offset"`
	OffsetVar  string  `json:"offset_var"`
}

// WaitStateSetpoint compares a device state with State.
type WaitStateSetpoint struct {
	Device  string  `json:"device"`
	SetType SetType `json:"set_type"`
	State   string  `json:"state"`
}

// RunBehaviorSetpoint names a behavior owned by Target, or by the tree's
// target when Target is empty.
type RunBehaviorSetpoint struct {
	Target   string  `json:"target"`
	SetType  SetType `json:"set_type"`
	Behavior string  `json:"behavior"`
}

// PropertySetpoint assigns one icon property of Device, or of the tree's
// target when Device is empty.
type PropertySetpoint struct {
	Device   string  `json:"device"`
	Property string  `json:"property"`
	SetType  SetType `json:"set_type"`
	Value    any     `json:"value,omitempty"`
	Var      string  `json:"var"`
}

func (RootSequence) Type() NodeType        { return TypeRootSequence }
func (Sequence) Type() NodeType            { return TypeSequence }
func (Selector) Type() NodeType            { return TypeSelector }
func (Repeat) Type() NodeType              { return TypeRepeat }
func (AlertSequence) Type() NodeType       { return TypeAlertSequence }
func (Set) Type() NodeType                 { return TypeSet }
func (Wait) Type() NodeType                { return TypeWait }
func (Tolerance) Type() NodeType           { return TypeTolerance }
func (WaitTime) Type() NodeType            { return TypeWaitTime }
func (SetDeviceState) Type() NodeType      { return TypeSetDeviceState }
func (RunBehavior) Type() NodeType         { return TypeRunBehavior }
func (WaitState) Type() NodeType           { return TypeWaitState }
func (SetIcon) Type() NodeType             { return TypeSetIcon }
func (Alert) Type() NodeType               { return TypeAlert }
func (Message) Type() NodeType             { return TypeMessage }
func (Dialog) Type() NodeType              { return TypeDialog }
func (SuccessLeaf) Type() NodeType         { return TypeSuccess }
func (FailureLeaf) Type() NodeType         { return TypeFailure }
func (Setpoint) Type() NodeType            { return TypeSetpoint }
func (Tolerancepoint) Type() NodeType      { return TypeTolerancepoint }
func (WaitStateSetpoint) Type() NodeType   { return TypeWaitStateSetpoint }
func (RunBehaviorSetpoint) Type() NodeType { return TypeRunBehaviorSetpoint }
func (PropertySetpoint) Type() NodeType    { return TypePropertySetpoint }

// NewParams returns a pointer to the zero params of t, suitable as a decode
// target, or nil for an invalid type.
func NewParams(t NodeType) Params {
	switch t {
	case TypeRootSequence:
		return &RootSequence{}
	case TypeSequence:
		return &Sequence{}
	case TypeSelector:
		return &Selector{}
	case TypeRepeat:
		return &Repeat{}
	case TypeAlertSequence:
		return &AlertSequence{}
	case TypeSet:
		return &Set{}
	case TypeWait:
		return &Wait{}
	case TypeTolerance:
		return &Tolerance{}
	case TypeWaitTime:
		return &WaitTime{}
	case TypeSetDeviceState:
		return &SetDeviceState{}
	case TypeRunBehavior:
		return &RunBehavior{}
	case TypeWaitState:
		return &WaitState{}
	case TypeSetIcon:
		return &SetIcon{}
	case TypeAlert:
		return &Alert{}
	case TypeMessage:
		return &Message{}
	case TypeDialog:
		return &Dialog{}
	case TypeSuccess:
		return &SuccessLeaf{}
	case TypeFailure:
		return &FailureLeaf{}
	case TypeSetpoint:
		return &Setpoint{}
	case TypeTolerancepoint:
		return &Tolerancepoint{}
	case TypeWaitStateSetpoint:
		return &WaitStateSetpoint{}
	case TypeRunBehaviorSetpoint:
		return &RunBehaviorSetpoint{}
	case TypePropertySetpoint:
		return &PropertySetpoint{}
	}
	return nil
}

// derefParams normalizes pointer params to values, so the arena always
// holds values.
func derefParams(p Params) Params {
	switch v := p.(type) {
	case *RootSequence:
		return *v
	case *Sequence:
		return *v
	case *Selector:
		return *v
	case *Repeat:
		return *v
	case *AlertSequence:
		return *v
	case *Set:
		return *v
	case *Wait:
		return *v
	case *Tolerance:
		return *v
	case *WaitTime:
		return *v
	case *SetDeviceState:
		return *v
	case *RunBehavior:
		return *v
	case *WaitState:
		return *v
	case *SetIcon:
		return *v
	case *Alert:
		return *v
	case *Message:
		return *v
	case *Dialog:
		return *v
	case *SuccessLeaf:
		return *v
	case *FailureLeaf:
		return *v
	case *Setpoint:
		return *v
	case *Tolerancepoint:
		return *v
	case *WaitStateSetpoint:
		return *v
	case *RunBehaviorSetpoint:
		return *v
	case *PropertySetpoint:
		return *v
	}
	return p
}
