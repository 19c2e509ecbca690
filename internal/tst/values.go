package tst

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Get reads one column of h. Reads are total: an unresolved handle or a
// column the entity does not carry yields nil.
func (t *Tree) Get(h Handle, col Column) any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.at(h)
	if e == nil {
		return nil
	}
	return t.get(e, col)
}

func (t *Tree) get(e *entity, col Column) any {
	switch col {
	case ColName:
		return e.name
	case ColRunningBehavior:
		if e.kind.IsContainer() {
			return e.runningBehavior
		}
	case ColInfoText:
		if e.kind.IsContainer() {
			return e.infoText
		}
	case ColRunnerIndex:
		if e.kind.IsContainer() {
			if e.runnerIndex == nil {
				return -1
			}
			return *e.runnerIndex
		}
	case ColIsOnline:
		if e.kind == KindSystem {
			return e.online
		}
	case ColManualControl:
		if e.kind == KindSystem {
			return e.manual
		}
	case ColState:
		if e.kind == KindDevice {
			return e.state
		}
	case ColStates:
		if e.kind == KindDevice {
			return slices.Clone(e.states)
		}
	}
	if e.io != nil {
		return getIO(e, col)
	}
	if e.vr != nil {
		return getVar(e, col)
	}
	return nil
}

func getIO(e *entity, col Column) any {
	io := e.io
	digital := e.kind.IsDigital()
	switch col {
	case ColValue:
		if digital {
			return io.raw != 0
		}
		return io.cal.toEng(io.raw)
	case ColValueText:
		if digital {
			if io.raw != 0 {
				return orDefault(io.onName, "On")
			}
			return orDefault(io.offName, "Off")
		}
		return formatValue(io.cal.toEng(io.raw), io.digits, io.unit)
	case ColHalValue:
		return io.raw
	case ColHalPin:
		return io.pin
	case ColBridgeIndex:
		return io.bridge
	}
	if digital {
		return nil
	}
	switch col {
	case ColUnit:
		return io.unit
	case ColPrecision:
		return io.digits
	case ColMin:
		if e.kind == KindAnalogOutput {
			return io.min
		}
	case ColMax:
		if e.kind == KindAnalogOutput {
			return io.max
		}
	}
	return nil
}

func getVar(e *entity, col Column) any {
	v := e.vr
	switch col {
	case ColValue:
		return v.value
	case ColValueText:
		switch x := v.value.(type) {
		case bool:
			return strconv.FormatBool(x)
		case int64:
			return strconv.FormatInt(x, 10)
		case float64:
			return formatValue(x, v.digits, v.unit)
		}
	case ColLaunchValue:
		return v.launch
	case ColUseLaunchValue:
		return v.useLaunch
	case ColUserManualSet:
		return v.userManualSet
	case ColMin:
		switch e.kind {
		case KindIntVariable:
			return v.imin
		case KindFloatVariable:
			return v.fmin
		}
	case ColMax:
		switch e.kind {
		case KindIntVariable:
			return v.imax
		case KindFloatVariable:
			return v.fmax
		}
	case ColUnit:
		if e.kind == KindFloatVariable {
			return v.unit
		}
	case ColPrecision:
		if e.kind == KindFloatVariable {
			return v.digits
		}
	}
	return nil
}

func formatValue(v float64, digits int, unit string) string {
	s := strconv.FormatFloat(v, 'f', max(digits, 0), 64)
	if unit != "" {
		s += " " + unit
	}
	return s
}

// Set writes one column of h. Writes to the value of an output I/O node are
// placed on its outbound queue for the I/O Bridge rather than applied.
func (t *Tree) Set(h Handle, col Column, value any) error {
	if col == ColName {
		name, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: name must be a string, got %T", ErrTypeMismatch, value)
		}
		_, err := t.Rename(h, name)
		return err
	}
	t.mu.Lock()
	e := t.at(h)
	if e == nil {
		t.mu.Unlock()
		return ErrUnresolved
	}
	kind := e.kind
	evs, err := t.set(h, e, col, value)
	t.mu.Unlock()
	evs.deliver()
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", kind, col, err)
	}
	return nil
}

func (t *Tree) set(h Handle, e *entity, col Column, value any) (events, error) {
	switch col {
	case ColRunningBehavior, ColInfoText:
		if !e.kind.IsContainer() {
			return nil, ErrUnknownColumn
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string, got %T", ErrTypeMismatch, value)
		}
		p := &e.infoText
		if col == ColRunningBehavior {
			p = &e.runningBehavior
		}
		if *p == s {
			return nil, nil
		}
		*p = s
		return t.collect(h, col, s), nil

	case ColIsOnline:
		if e.kind != KindSystem {
			return nil, ErrUnknownColumn
		}
		b, err := toBool(value)
		if err != nil {
			return nil, err
		}
		var evs events
		if b && e.manual {
			e.manual = false
			evs = append(evs, t.collect(h, ColManualControl, false)...)
		}
		if e.online != b {
			e.online = b
			evs = append(evs, t.collect(h, ColIsOnline, b)...)
		}
		return evs, nil

	case ColManualControl:
		if e.kind != KindSystem {
			return nil, ErrUnknownColumn
		}
		b, err := toBool(value)
		if err != nil {
			return nil, err
		}
		if b && e.online {
			return nil, fmt.Errorf("%w: system %q is online", ErrNotPermitted, e.name)
		}
		if e.manual == b {
			return nil, nil
		}
		e.manual = b
		return t.collect(h, col, b), nil

	case ColState:
		if e.kind != KindDevice {
			return nil, ErrUnknownColumn
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string, got %T", ErrTypeMismatch, value)
		}
		if len(e.states) > 0 && !slices.Contains(e.states, s) {
			return nil, fmt.Errorf("%w: %q is not a state of device %q", ErrOutOfRange, s, e.name)
		}
		if e.state == s {
			return nil, nil
		}
		e.state = s
		return t.collect(h, col, s), nil

	case ColStates:
		if e.kind != KindDevice {
			return nil, ErrUnknownColumn
		}
		s, ok := value.([]string)
		if !ok {
			return nil, fmt.Errorf("%w: expected []string, got %T", ErrTypeMismatch, value)
		}
		e.states = slices.Clone(s)
		return t.collect(h, col, slices.Clone(s)), nil
	}

	if e.io != nil {
		return t.setIO(h, e, col, value)
	}
	if e.vr != nil {
		return t.setVar(h, e, col, value)
	}
	return nil, ErrUnknownColumn
}

func (t *Tree) setIO(h Handle, e *entity, col Column, value any) (events, error) {
	io := e.io
	switch col {
	case ColHalValue:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if e.kind.IsDigital() {
			f = boolFloat(f != 0)
		}
		if io.raw == f {
			return nil, nil
		}
		io.raw = f
		evs := t.collect(h, ColHalValue, f)
		evs = append(evs, t.collect(h, ColValue, getIO(e, ColValue))...)
		evs = append(evs, t.collect(h, ColValueText, getIO(e, ColValueText))...)
		return evs, nil

	case ColValue:
		switch e.kind {
		case KindDigitalOutput:
			b, err := toBool(value)
			if err != nil {
				return nil, err
			}
			io.pending, io.hasPending = boolFloat(b), true
			return nil, nil
		case KindAnalogOutput:
			f, err := toFloat(value)
			if err != nil {
				return nil, err
			}
			if math.IsNaN(f) || f < io.min || f > io.max {
				return nil, fmt.Errorf("%w: %v outside [%v, %v]", ErrOutOfRange, f, io.min, io.max)
			}
			io.pending, io.hasPending = io.cal.toRaw(f), true
			return nil, nil
		}
		return nil, ErrReadOnly

	case ColValueText, ColHalPin, ColBridgeIndex, ColUnit, ColPrecision, ColMin, ColMax:
		return nil, ErrReadOnly
	}
	return nil, ErrUnknownColumn
}

func (t *Tree) setVar(h Handle, e *entity, col Column, value any) (events, error) {
	v := e.vr
	switch col {
	case ColValue, ColLaunchValue:
		nv, err := coerceVar(e.kind, v, value)
		if err != nil {
			return nil, err
		}
		p := &v.value
		if col == ColLaunchValue {
			p = &v.launch
		}
		if *p == nv {
			return nil, nil
		}
		*p = nv
		evs := t.collect(h, col, nv)
		if col == ColValue {
			evs = append(evs, t.collect(h, ColValueText, getVar(e, ColValueText))...)
		}
		return evs, nil

	case ColUseLaunchValue, ColUserManualSet:
		b, err := toBool(value)
		if err != nil {
			return nil, err
		}
		p := &v.useLaunch
		if col == ColUserManualSet {
			p = &v.userManualSet
		}
		if *p == b {
			return nil, nil
		}
		*p = b
		return t.collect(h, col, b), nil

	case ColValueText, ColMin, ColMax, ColUnit, ColPrecision:
		return nil, ErrReadOnly
	}
	return nil, ErrUnknownColumn
}

func coerceVar(kind Kind, v *varState, value any) (any, error) {
	switch kind {
	case KindBoolVariable:
		return toBool(value)
	case KindIntVariable:
		i, err := toInt(value)
		if err != nil {
			return nil, err
		}
		return clampInt(i, v.imin, v.imax), nil
	case KindFloatVariable:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) {
			return nil, fmt.Errorf("%w: NaN", ErrTypeMismatch)
		}
		return clampFloat(f, v.fmin, v.fmax), nil
	}
	return nil, ErrUnknownColumn
}

// PopOutbound takes the pending value from an output I/O node's outbound
// queue. Only the most recent write since the last pop is retained.
func (t *Tree) PopOutbound(h Handle) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.at(h)
	if e == nil || e.io == nil || !e.io.hasPending {
		return 0, false
	}
	e.io.hasPending = false
	return e.io.pending, true
}

// SetIconProperty assigns one visual property of a device icon.
func (t *Tree) SetIconProperty(h Handle, name string, value any) error {
	t.mu.Lock()
	e := t.at(h)
	if e == nil {
		t.mu.Unlock()
		return ErrUnresolved
	}
	if e.kind != KindDevice {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s has no icon", ErrUnknownColumn, e.kind)
	}
	if e.icon == nil {
		e.icon = make(map[string]any)
	}
	e.icon[name] = value
	t.mu.Unlock()
	return nil
}

// IconProperty reads one visual property of a device icon.
func (t *Tree) IconProperty(h Handle, name string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.at(h)
	if e == nil || e.icon == nil {
		return nil, false
	}
	v, ok := e.icon[name]
	return v, ok
}

func toFloat(value any) (float64, error) {
	switch x := value.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		return boolFloat(x), nil
	}
	return 0, fmt.Errorf("%w: expected number, got %T", ErrTypeMismatch, value)
}

func toInt(value any) (int64, error) {
	switch x := value.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		if x > math.MaxInt64 {
			return math.MaxInt64, nil
		}
		return int64(x), nil
	}
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	switch {
	case math.IsNaN(f):
		return 0, fmt.Errorf("%w: NaN", ErrTypeMismatch)
	case f >= math.MaxInt64:
		return math.MaxInt64, nil
	case f <= math.MinInt64:
		return math.MinInt64, nil
	}
	return int64(f), nil
}

func toBool(value any) (bool, error) {
	switch x := value.(type) {
	case bool:
		return x, nil
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		return s != "" && s != "false" && s != "0", nil
	case nil:
		return false, nil
	}
	f, err := toFloat(value)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clampInt(v, lo, hi int64) int64 {
	return min(max(v, lo), hi)
}

func clampFloat(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
