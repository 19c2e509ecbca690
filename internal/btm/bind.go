package btm

import (
	"github.com/joeycumines/toolbt/internal/tst"
)

// property reference slots
const (
	refTarget = iota
	refSource
	refScale
	refOffset
)

// SyncToTool re-resolves every TST reference by name. The tree's own target
// follows its container through renames while the old handle stays valid.
// References that do not resolve are reported as BindingErrors and treated
// as NoSet.
func (t *Tree) SyncToTool(tool *tst.Tree) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sync(tool)
	if t.env != nil {
		for _, err := range t.bindErrs {
			t.env.logger().Warn("[BTM] binding error", "tree", t.nodes[RootID].params.(RootSequence).Name, "error", err)
		}
	}
}

// BindingErrors returns the errors found by the last SyncToTool.
func (t *Tree) BindingErrors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.bindErrs...)
}

func (t *Tree) sync(tool *tst.Tree) {
	t.bindErrs = nil
	name := t.nodes[RootID].params.(RootSequence).Name
	if tool.Valid(t.targetH) && tool.Kind(t.targetH).IsContainer() {
		t.target = tool.Path(t.targetH)
	} else {
		t.targetH = tool.Lookup(t.target)
		if !t.targetH.Valid() || !tool.Kind(t.targetH).IsContainer() {
			t.targetH = tst.Handle{}
			t.bindErrs = append(t.bindErrs, &BindingError{Tree: name, Node: RootID, Field: "target", Path: t.target})
		}
	}

	for i := range t.nodes {
		n := &t.nodes[i]
		n.refs = [maxRefs]tst.Handle{}
		resolve := func(slot int, field, path string, fallback bool) {
			if path == "" {
				if fallback {
					n.refs[slot] = t.targetH
				}
				return
			}
			h := tool.Lookup(path)
			if !h.Valid() {
				t.bindErrs = append(t.bindErrs, &BindingError{Tree: name, Node: NodeID(i), Field: field, Path: path})
				return
			}
			n.refs[slot] = h
		}
		switch p := n.params.(type) {
		case Setpoint:
			resolve(refTarget, "target", p.Target, false)
			if p.SetType.Source() == FromVar {
				resolve(refSource, "var", p.Var, false)
			}
		case Tolerancepoint:
			resolve(refTarget, "target", p.Target, false)
			resolve(refSource, "reference", p.Reference, false)
			if p.ScaleType == FromVar {
				resolve(refScale, "scale_var", p.ScaleVar, false)
			}
			if p.OffsetType == FromVar {
				resolve(refOffset, "offset_var", p.OffsetVar, false)
			}
		case WaitStateSetpoint:
			resolve(refTarget, "device", p.Device, true)
		case RunBehaviorSetpoint:
			resolve(refTarget, "target", p.Target, true)
		case PropertySetpoint:
			resolve(refTarget, "device", p.Device, true)
			if p.SetType.Source() == FromVar {
				resolve(refSource, "var", p.Var, false)
			}
		case SetDeviceState:
			resolve(refTarget, "device", p.Device, true)
		}
	}
}

// effectiveSource is the source of a property after binding: NoSet when a
// reference it needs did not resolve.
func (t *Tree) effectiveSource(n *node) Source {
	switch p := n.params.(type) {
	case Setpoint:
		src := p.SetType.Source()
		if src == NoSet || !n.refs[refTarget].Valid() {
			return NoSet
		}
		if src == FromVar && !n.refs[refSource].Valid() {
			return NoSet
		}
		return src
	case Tolerancepoint:
		if !n.refs[refTarget].Valid() || !n.refs[refSource].Valid() {
			return NoSet
		}
		if p.ScaleType == NoSet && p.OffsetType == NoSet {
			return NoSet
		}
		if (p.ScaleType == FromVar && !n.refs[refScale].Valid()) || (p.OffsetType == FromVar && !n.refs[refOffset].Valid()) {
			return NoSet
		}
		return FromValue
	case WaitStateSetpoint:
		if !n.refs[refTarget].Valid() {
			return NoSet
		}
		return p.SetType.Source()
	case RunBehaviorSetpoint:
		if !n.refs[refTarget].Valid() {
			return NoSet
		}
		return p.SetType.Source()
	case PropertySetpoint:
		src := p.SetType.Source()
		if src == NoSet || !n.refs[refTarget].Valid() {
			return NoSet
		}
		if src == FromVar && !n.refs[refSource].Valid() {
			return NoSet
		}
		return src
	}
	return NoSet
}

// EffectiveSource reports the source of property id after binding.
func (t *Tree) EffectiveSource(id NodeID) Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || int(id) >= len(t.nodes) {
		return NoSet
	}
	return t.effectiveSource(&t.nodes[id])
}
