package tst

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// PathSeparator separates entity names in a path.
const PathSeparator = "/"

// Syncer is notified after topology changes so that it can re-resolve any
// handles it holds by name.
type Syncer interface {
	SyncToTool(tree *Tree)
}

type ioState struct {
	pin        string
	bridge     int
	raw        float64
	onName     string
	offName    string
	cal        calibration
	unit       string
	digits     int
	min, max   float64
	pending    float64
	hasPending bool
}

type varState struct {
	value         any // bool, int64 or float64
	launch        any
	useLaunch     bool
	userManualSet bool
	imin, imax    int64
	imask         uint8 // bounds given explicitly: 1 min, 2 max
	fmin, fmax    float64
	unit          string
	digits        int
}

type entity struct {
	gen      uint32
	live     bool
	kind     Kind
	name     string
	parent   Handle
	children []Handle

	// containers
	runnerIndex     *int
	runningBehavior string
	infoText        string

	// system
	online bool
	manual bool

	// device
	states []string
	state  string
	icon   map[string]any

	io  *ioState
	vr  *varState
}

// Tree is the tool state tree. The zero value is not usable, use New.
type Tree struct {
	mu       sync.RWMutex
	entities []entity // slot 0 is never used
	free     []uint32
	root     Handle
	subs     map[subKey][]*Subscription
	syncMu   sync.Mutex
	syncers  []Syncer
}

// New constructs a tree containing only the tool root.
func New(cfg ToolConfig) *Tree {
	t := &Tree{
		entities: make([]entity, 1, 64),
		subs:     make(map[subKey][]*Subscription),
	}
	name := cfg.Name
	if name == "" {
		name = "Tool"
	}
	h := t.alloc()
	e := t.at(h)
	e.kind = KindTool
	e.name = name
	e.runnerIndex = copyIntPtr(cfg.RunnerIndex)
	t.root = h
	return t
}

// Root returns the tool handle.
func (t *Tree) Root() Handle { return t.root }

func (t *Tree) alloc() Handle {
	var idx uint32
	var gen uint32 = 1
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		gen = t.entities[idx].gen + 1
		if gen == 0 {
			gen = 1
		}
	} else {
		idx = uint32(len(t.entities))
		t.entities = append(t.entities, entity{})
	}
	t.entities[idx] = entity{gen: gen, live: true}
	return Handle{index: idx, gen: gen}
}

// at returns the live entity for h, or nil. Callers hold t.mu.
func (t *Tree) at(h Handle) *entity {
	if !h.Valid() || int(h.index) >= len(t.entities) {
		return nil
	}
	e := &t.entities[h.index]
	if !e.live || e.gen != h.gen {
		return nil
	}
	return e
}

// Valid reports whether h resolves to a live entity.
func (t *Tree) Valid(h Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.at(h) != nil
}

// Kind returns the kind of h, or KindInvalid.
func (t *Tree) Kind(h Handle) Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e := t.at(h); e != nil {
		return e.kind
	}
	return KindInvalid
}

// Name returns the name of h, or "".
func (t *Tree) Name(h Handle) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e := t.at(h); e != nil {
		return e.name
	}
	return ""
}

// Parent returns the parent of h, or the null handle.
func (t *Tree) Parent(h Handle) Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e := t.at(h); e != nil {
		return e.parent
	}
	return Handle{}
}

// Children returns a copy of the children of h, in insertion order.
func (t *Tree) Children(h Handle) []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e := t.at(h); e != nil {
		return append([]Handle(nil), e.children...)
	}
	return nil
}

// Ancestor returns the nearest ancestor of h (including h itself) of the
// given kind, or the null handle.
func (t *Tree) Ancestor(h Handle, kind Kind) Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for e := t.at(h); e != nil; e = t.at(e.parent) {
		if e.kind == kind {
			return h
		}
		h = e.parent
	}
	return Handle{}
}

// Add creates an entity under parent from cfg and returns its handle. The
// name is disambiguated against existing siblings.
func (t *Tree) Add(parent Handle, cfg NodeConfig) (Handle, error) {
	if cfg == nil {
		return Handle{}, fmt.Errorf("%w: nil config", ErrTypeMismatch)
	}
	kind := cfg.Kind()
	t.mu.Lock()
	p := t.at(parent)
	if p == nil {
		t.mu.Unlock()
		return Handle{}, ErrUnresolved
	}
	if !validParent(p.kind, kind) {
		t.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s cannot contain %s", ErrInvalidParent, p.kind, kind)
	}
	name := cfg.nodeName()
	if name == "" {
		name = kind.String()
	}
	name = t.uniqueName(parent, name, Handle{})
	h := t.alloc()
	e := t.at(h)
	e.kind = kind
	e.name = name
	e.parent = parent
	applyConfig(e, cfg)
	// alloc may have grown the slice, so re-fetch the parent
	p = t.at(parent)
	p.children = append(p.children, h)
	t.mu.Unlock()
	return h, nil
}

func validParent(parent, child Kind) bool {
	switch child {
	case KindSystem:
		return parent == KindTool
	case KindDevice:
		return parent == KindSystem
	case KindDigitalInput, KindDigitalOutput, KindAnalogInput, KindAnalogOutput:
		return parent == KindDevice
	case KindBoolVariable, KindIntVariable, KindFloatVariable:
		return parent.IsContainer()
	}
	return false
}

func applyConfig(e *entity, cfg NodeConfig) {
	switch c := deref(cfg).(type) {
	case SystemConfig:
		e.online = c.IsOnline
		e.manual = c.DeviceManualControl && !c.IsOnline
		e.runnerIndex = copyIntPtr(c.RunnerIndex)
	case DeviceConfig:
		e.states = append([]string(nil), c.States...)
		e.state = c.State
		e.runnerIndex = copyIntPtr(c.RunnerIndex)
		e.icon = make(map[string]any, len(c.Icon))
		for k, v := range c.Icon {
			e.icon[k] = v
		}
	case DigitalInputConfig:
		e.io = &ioState{pin: c.HalPin, bridge: c.BridgeIndex, onName: c.OnName, offName: c.OffName}
	case DigitalOutputConfig:
		e.io = &ioState{pin: c.HalPin, bridge: c.BridgeIndex, onName: c.OnName, offName: c.OffName}
	case AnalogInputConfig:
		e.io = &ioState{pin: c.HalPin, bridge: c.BridgeIndex, cal: newCalibration(c.Calibration), unit: c.Unit, digits: c.DisplayDigits,
			min: math.Inf(-1), max: math.Inf(1)}
	case AnalogOutputConfig:
		lo, hi := c.Min, c.Max
		if lo == 0 && hi == 0 {
			lo, hi = math.Inf(-1), math.Inf(1)
		}
		e.io = &ioState{pin: c.HalPin, bridge: c.BridgeIndex, cal: newCalibration(c.Calibration), unit: c.Unit, digits: c.DisplayDigits,
			min: lo, max: hi}
		e.io.raw = e.io.cal.toRaw(clampFloat(0, lo, hi))
	case BoolVariableConfig:
		e.vr = &varState{value: c.Value, launch: c.LaunchValue, useLaunch: c.UseLaunchValue, userManualSet: c.UserManualSet}
	case IntVariableConfig:
		v := &varState{imin: math.MinInt64, imax: math.MaxInt64, useLaunch: c.UseLaunchValue, userManualSet: c.UserManualSet}
		if c.Min != nil {
			v.imin, v.imask = *c.Min, v.imask|1
		}
		if c.Max != nil {
			v.imax, v.imask = *c.Max, v.imask|2
		}
		v.value = clampInt(c.Value, v.imin, v.imax)
		v.launch = clampInt(c.LaunchValue, v.imin, v.imax)
		e.vr = v
	case FloatVariableConfig:
		v := &varState{fmin: math.Inf(-1), fmax: math.Inf(1), useLaunch: c.UseLaunchValue, userManualSet: c.UserManualSet,
			unit: c.Unit, digits: c.DisplayDigits}
		if c.Min != nil {
			v.fmin = *c.Min
		}
		if c.Max != nil {
			v.fmax = *c.Max
		}
		v.value = clampFloat(c.Value, v.fmin, v.fmax)
		v.launch = clampFloat(c.LaunchValue, v.fmin, v.fmax)
		e.vr = v
	}
}

// deref lets Add accept both T and *T configs.
func deref(cfg NodeConfig) NodeConfig {
	switch c := cfg.(type) {
	case *ToolConfig:
		return *c
	case *SystemConfig:
		return *c
	case *DeviceConfig:
		return *c
	case *DigitalInputConfig:
		return *c
	case *DigitalOutputConfig:
		return *c
	case *AnalogInputConfig:
		return *c
	case *AnalogOutputConfig:
		return *c
	case *BoolVariableConfig:
		return *c
	case *IntVariableConfig:
		return *c
	case *FloatVariableConfig:
		return *c
	}
	return cfg
}

// Config exports the current configuration of h, including current values
// of variables and device states. It returns nil for unresolved handles.
func (t *Tree) Config(h Handle) NodeConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.at(h)
	if e == nil {
		return nil
	}
	switch e.kind {
	case KindTool:
		return &ToolConfig{Name: e.name, RunnerIndex: copyIntPtr(e.runnerIndex)}
	case KindSystem:
		return &SystemConfig{Name: e.name, IsOnline: e.online, DeviceManualControl: e.manual, RunnerIndex: copyIntPtr(e.runnerIndex)}
	case KindDevice:
		c := &DeviceConfig{Name: e.name, States: append([]string{}, e.states...), State: e.state, RunnerIndex: copyIntPtr(e.runnerIndex),
			Icon: make(map[string]any, len(e.icon))}
		for k, v := range e.icon {
			c.Icon[k] = v
		}
		return c
	case KindDigitalInput:
		return &DigitalInputConfig{Name: e.name, HalPin: e.io.pin, BridgeIndex: e.io.bridge, OnName: e.io.onName, OffName: e.io.offName}
	case KindDigitalOutput:
		return &DigitalOutputConfig{Name: e.name, HalPin: e.io.pin, BridgeIndex: e.io.bridge, OnName: e.io.onName, OffName: e.io.offName}
	case KindAnalogInput:
		return &AnalogInputConfig{Name: e.name, HalPin: e.io.pin, BridgeIndex: e.io.bridge, Calibration: e.io.cal.points(),
			Unit: e.io.unit, DisplayDigits: e.io.digits}
	case KindAnalogOutput:
		c := &AnalogOutputConfig{Name: e.name, HalPin: e.io.pin, BridgeIndex: e.io.bridge, Calibration: e.io.cal.points(),
			Unit: e.io.unit, DisplayDigits: e.io.digits}
		if !math.IsInf(e.io.min, 0) || !math.IsInf(e.io.max, 0) {
			c.Min, c.Max = e.io.min, e.io.max
		}
		return c
	case KindBoolVariable:
		return &BoolVariableConfig{Name: e.name, Value: e.vr.value.(bool), LaunchValue: e.vr.launch.(bool),
			UseLaunchValue: e.vr.useLaunch, UserManualSet: e.vr.userManualSet}
	case KindIntVariable:
		c := &IntVariableConfig{Name: e.name, Value: e.vr.value.(int64), LaunchValue: e.vr.launch.(int64),
			UseLaunchValue: e.vr.useLaunch, UserManualSet: e.vr.userManualSet}
		if e.vr.imask&1 != 0 {
			lo := e.vr.imin
			c.Min = &lo
		}
		if e.vr.imask&2 != 0 {
			hi := e.vr.imax
			c.Max = &hi
		}
		return c
	case KindFloatVariable:
		c := &FloatVariableConfig{Name: e.name, Value: e.vr.value.(float64), LaunchValue: e.vr.launch.(float64),
			UseLaunchValue: e.vr.useLaunch, UserManualSet: e.vr.userManualSet, Unit: e.vr.unit, DisplayDigits: e.vr.digits}
		if !math.IsInf(e.vr.fmin, 0) {
			lo := e.vr.fmin
			c.Min = &lo
		}
		if !math.IsInf(e.vr.fmax, 0) {
			hi := e.vr.fmax
			c.Max = &hi
		}
		return c
	}
	return nil
}

// Remove deletes h and its subtree. The root cannot be removed. Callers
// should follow topology edits with SyncAfterMutation.
func (t *Tree) Remove(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.at(h)
	if e == nil {
		return ErrUnresolved
	}
	if h == t.root {
		return fmt.Errorf("%w: cannot remove the tool root", ErrNotPermitted)
	}
	if p := t.at(e.parent); p != nil {
		for i, c := range p.children {
			if c == h {
				p.children = append(p.children[:i:i], p.children[i+1:]...)
				break
			}
		}
	}
	t.release(h)
	return nil
}

func (t *Tree) release(h Handle) {
	e := t.at(h)
	if e == nil {
		return
	}
	for _, c := range e.children {
		t.release(c)
	}
	for k := range t.subs {
		if k.h == h {
			for _, s := range t.subs[k] {
				s.closeLocked()
			}
			delete(t.subs, k)
		}
	}
	gen := e.gen
	t.entities[h.index] = entity{gen: gen}
	t.free = append(t.free, h.index)
}

// Rename changes the name of h, disambiguating against its siblings, and
// returns the name actually assigned.
func (t *Tree) Rename(h Handle, name string) (string, error) {
	t.mu.Lock()
	e := t.at(h)
	if e == nil {
		t.mu.Unlock()
		return "", ErrUnresolved
	}
	if name == "" {
		t.mu.Unlock()
		return "", fmt.Errorf("%w: empty name", ErrOutOfRange)
	}
	if h != t.root {
		name = t.uniqueName(e.parent, name, h)
	}
	e.name = name
	ev := t.collect(h, ColName, name)
	t.mu.Unlock()
	ev.deliver()
	return name, nil
}

// uniqueName appends _1, _2, ... until name is free among the children of
// parent, ignoring self.
func (t *Tree) uniqueName(parent Handle, name string, self Handle) string {
	p := t.at(parent)
	if p == nil {
		return name
	}
	taken := func(n string) bool {
		for _, c := range p.children {
			if c == self {
				continue
			}
			if ce := t.at(c); ce != nil && ce.name == n {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// Child returns the child of parent with the given name.
func (t *Tree) Child(parent Handle, name string) Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.child(parent, name)
}

func (t *Tree) child(parent Handle, name string) Handle {
	p := t.at(parent)
	if p == nil {
		return Handle{}
	}
	for _, c := range p.children {
		if ce := t.at(c); ce != nil && ce.name == name {
			return c
		}
	}
	return Handle{}
}

// Lookup resolves a slash separated path relative to the root. The empty
// path resolves to the root. Unknown paths yield the null handle.
func (t *Tree) Lookup(path string) Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.root
	path = strings.Trim(path, PathSeparator)
	if path == "" {
		return h
	}
	for _, part := range strings.Split(path, PathSeparator) {
		h = t.child(h, part)
		if !h.Valid() {
			return Handle{}
		}
	}
	return h
}

// Path renders h as a path relative to the root, or "" for the root and
// unresolved handles.
func (t *Tree) Path(h Handle) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var parts []string
	for e := t.at(h); e != nil && h != t.root; e = t.at(h) {
		parts = append(parts, e.name)
		h = e.parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, PathSeparator)
}

// IndexesOf returns the descendants of subtree whose kind is in kinds, in
// depth-first pre-order. A null subtree means the root. depth limits the
// descent (1 is direct children only), a negative depth is unlimited.
func (t *Tree) IndexesOf(kinds KindSet, subtree Handle, depth int) []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !subtree.Valid() {
		subtree = t.root
	}
	var out []Handle
	var walk func(h Handle, level int)
	walk = func(h Handle, level int) {
		e := t.at(h)
		if e == nil {
			return
		}
		for _, c := range e.children {
			ce := t.at(c)
			if ce == nil {
				continue
			}
			if kinds.Has(ce.kind) {
				out = append(out, c)
			}
			if depth < 0 || level+1 < depth {
				walk(c, level+1)
			}
		}
	}
	walk(subtree, 0)
	return out
}

// RunnerIndex returns the configured runner index of a container, and
// whether one is set.
func (t *Tree) RunnerIndex(h Handle) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.at(h)
	if e == nil || e.runnerIndex == nil {
		return 0, false
	}
	return *e.runnerIndex, true
}

// ApplyLaunchValues assigns launch_value to value for every variable with
// use_launch_value set, returning the number of variables updated.
func (t *Tree) ApplyLaunchValues() int {
	t.mu.Lock()
	var evs events
	n := 0
	for i := range t.entities {
		e := &t.entities[i]
		if !e.live || e.vr == nil || !e.vr.useLaunch {
			continue
		}
		e.vr.value = e.vr.launch
		evs = append(evs, t.collect(Handle{index: uint32(i), gen: e.gen}, ColValue, e.vr.value)...)
		n++
	}
	t.mu.Unlock()
	evs.deliver()
	return n
}

// OnSync registers s to be called by SyncAfterMutation.
func (t *Tree) OnSync(s Syncer) {
	t.syncMu.Lock()
	defer t.syncMu.Unlock()
	t.syncers = append(t.syncers, s)
}

// SyncAfterMutation re-binds every registered Syncer. It must be called
// after topology edits (Add, Remove, Rename) while no behavior is ticking.
func (t *Tree) SyncAfterMutation() {
	t.syncMu.Lock()
	syncers := append([]Syncer(nil), t.syncers...)
	t.syncMu.Unlock()
	for _, s := range syncers {
		s.SyncToTool(t)
	}
}

// Snapshot returns the values of the tree as nested maps keyed by name.
// Containers map to child maps, I/O nodes and variables to their value.
// Devices carry their state under "_state", systems their online flag under
// "_online".
func (t *Tree) Snapshot() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var build func(h Handle) map[string]any
	build = func(h Handle) map[string]any {
		e := t.at(h)
		m := make(map[string]any, len(e.children)+1)
		switch e.kind {
		case KindDevice:
			m["_state"] = e.state
		case KindSystem:
			m["_online"] = e.online
		}
		for _, c := range e.children {
			ce := t.at(c)
			if ce == nil {
				continue
			}
			if ce.kind.IsContainer() {
				m[ce.name] = build(c)
			} else {
				m[ce.name] = t.get(ce, ColValue)
			}
		}
		return m
	}
	return build(t.root)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
