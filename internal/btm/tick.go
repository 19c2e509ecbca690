package btm

import (
	"fmt"
	"math"
	"time"

	"github.com/joeycumines/toolbt/internal/tst"
)

// tick advances id. Callers hold t.mu. Terminal nodes return their stored
// status until reset.
func (t *Tree) tick(id NodeID) Status {
	n := &t.nodes[id]
	if n.status.Terminal() {
		return n.status
	}
	first := n.status == Unvisited
	var s Status
	switch p := n.params.(type) {
	case RootSequence, Sequence:
		s = t.tickSequence(n, first)
	case Selector:
		s = t.tickSelector(n, first)
	case Repeat:
		s = t.tickRepeat(n, p, first)
	case AlertSequence:
		s = t.tickAlertSequence(n, p, first)
	case Set:
		s = t.tickSet(id, n)
	case Wait:
		s = t.tickWait(id, n, p.TimeoutSec, first, t.setpointSatisfied)
	case Tolerance:
		s = t.tickWait(id, n, p.TimeoutSec, first, t.tolerancepointSatisfied)
	case WaitState:
		s = t.tickWait(id, n, p.TimeoutSec, first, t.waitStateSatisfied)
	case WaitTime:
		s = t.tickWaitTime(n, p, first)
	case SetDeviceState:
		s = t.tickSetDeviceState(id, n, p)
	case RunBehavior:
		s = t.tickRunBehavior(id, n)
	case SetIcon:
		s = t.tickSetIcon(id, n)
	case Alert:
		t.raiseAlert(p.AlertType, p.Text)
		s = Success
	case Message:
		s = t.tickMessage(p)
	case Dialog:
		s = t.tickDialog(id, n, p, first)
	case SuccessLeaf:
		s = Success
	case FailureLeaf:
		s = Failure
	default:
		panic(fmt.Sprintf("btm: node %d of type %s is not tickable", id, n.params.Type()))
	}
	n.status = s
	return s
}

func (t *Tree) tickSequence(n *node, first bool) Status {
	if first {
		n.current = 0
	}
	for n.current < len(n.children) {
		s := t.tick(n.children[n.current])
		if s != Success {
			return s
		}
		n.current++
	}
	return Success
}

func (t *Tree) tickSelector(n *node, first bool) Status {
	if first {
		n.current = 0
	}
	for n.current < len(n.children) {
		s := t.tick(n.children[n.current])
		if s != Failure {
			return s
		}
		n.current++
	}
	return Failure
}

// tickRepeat runs one sequence pass per iteration. Between iterations it
// returns Running and resets its children, the next pass starting on the
// following tick.
func (t *Tree) tickRepeat(n *node, p Repeat, first bool) Status {
	if first {
		n.current = 0
		n.remaining = max(p.NumberRepeats, 0)
		n.iteration = Success
	}
	for n.current < len(n.children) {
		s := t.tick(n.children[n.current])
		if s == Running {
			return Running
		}
		if s == Failure {
			if !p.IgnoreFailure {
				return Failure
			}
			n.iteration = Failure
			break
		}
		n.current++
	}
	result := n.iteration
	if n.remaining > 0 {
		n.remaining--
		n.current = 0
		n.iteration = Success
		for _, c := range n.children {
			t.reset(c)
		}
		return Running
	}
	return result
}

func (t *Tree) tickAlertSequence(n *node, p AlertSequence, first bool) Status {
	if first {
		n.current = 0
		n.alert = t.raiseAlert(p.AlertType, p.Text)
	}
	s := t.tickSequence(n, false)
	switch s {
	case Success:
		if n.alert != nil {
			n.alert.Clear()
		}
	case Failure:
		if n.alert != nil {
			n.alert.SetUserClearable(true)
		}
	}
	return s
}

func (t *Tree) tickWaitTime(n *node, p WaitTime, first bool) Status {
	now := t.env.now()
	if first {
		n.startedAt = now
		return Running
	}
	if now.Sub(n.startedAt) >= time.Duration(p.WaitTimeSec*float64(time.Second)) {
		return Success
	}
	return Running
}

// tickWait is shared by Wait, Tolerance and WaitState: Running on entry,
// then Success once every active property is satisfied, or Failure once the
// timeout has strictly elapsed.
func (t *Tree) tickWait(id NodeID, n *node, timeoutSec float64, first bool, satisfied func(*node) (bool, error)) Status {
	now := t.env.now()
	if first {
		n.startedAt = now
		return Running
	}
	all := true
	for _, c := range n.children {
		ok, err := satisfied(&t.nodes[c])
		if err != nil {
			t.env.logger().Warn("[BTM] condition failed", "tree", t.name(), "node", id, "error", err)
			return Failure
		}
		if !ok {
			all = false
			break
		}
	}
	if all {
		return Success
	}
	if timeoutSec > 0 && now.Sub(n.startedAt) > time.Duration(timeoutSec*float64(time.Second)) {
		return Failure
	}
	return Running
}

func (t *Tree) setpointSatisfied(n *node) (bool, error) {
	src := t.effectiveSource(n)
	if src == NoSet {
		return true, nil
	}
	p := n.params.(Setpoint)
	expected, err := t.resolve(n, src, p.Value)
	if err != nil {
		return false, err
	}
	actual := t.env.Tool.Get(n.refs[refTarget], tst.ColValue)
	return compare(actual, expected, p.SetType.Predicate())
}

func (t *Tree) tolerancepointSatisfied(n *node) (bool, error) {
	if t.effectiveSource(n) == NoSet {
		return true, nil
	}
	p := n.params.(Tolerancepoint)
	tool := t.env.Tool
	a, err := number(tool.Get(n.refs[refTarget], tst.ColValue))
	if err != nil {
		return false, err
	}
	b, err := number(tool.Get(n.refs[refSource], tst.ColValue))
	if err != nil {
		return false, err
	}
	scale, err := t.term(p.ScaleType, p.Scale, n.refs[refScale])
	if err != nil {
		return false, err
	}
	offset, err := t.term(p.OffsetType, p.Offset, n.refs[refOffset])
	if err != nil {
		return false, err
	}
	return math.Abs(a-b) < math.Abs(b)*scale+offset, nil
}

func (t *Tree) term(src Source, value float64, ref tst.Handle) (float64, error) {
	switch src {
	case FromValue:
		return value, nil
	case FromVar:
		return number(t.env.Tool.Get(ref, tst.ColValue))
	}
	return 0, nil
}

func (t *Tree) waitStateSatisfied(n *node) (bool, error) {
	if t.effectiveSource(n) == NoSet {
		return true, nil
	}
	p := n.params.(WaitStateSetpoint)
	state, _ := t.env.Tool.Get(n.refs[refTarget], tst.ColState).(string)
	switch p.SetType.Predicate() {
	case Equal:
		return state == p.State, nil
	case NotEqual:
		return state != p.State, nil
	}
	return false, fmt.Errorf("%w: predicate %s on device state", ErrTypeMismatch, p.SetType.Predicate())
}

// resolve yields the value a property contributes: its literal, or the
// current value of its referenced variable.
func (t *Tree) resolve(n *node, src Source, literal any) (any, error) {
	switch src {
	case FromValue:
		return literal, nil
	case FromVar:
		v := t.env.Tool.Get(n.refs[refSource], tst.ColValue)
		if v == nil {
			return nil, fmt.Errorf("%w: variable has no value", ErrTypeMismatch)
		}
		return v, nil
	}
	return nil, nil
}

func (t *Tree) tickSet(id NodeID, n *node) Status {
	for _, c := range n.children {
		cn := &t.nodes[c]
		src := t.effectiveSource(cn)
		if src == NoSet {
			continue
		}
		p := cn.params.(Setpoint)
		v, err := t.resolve(cn, src, p.Value)
		if err == nil {
			err = t.env.Tool.Set(cn.refs[refTarget], tst.ColValue, v)
		}
		if err != nil {
			t.env.logger().Warn("[BTM] set failed", "tree", t.name(), "node", id, "target", p.Target, "error", err)
			return Failure
		}
	}
	return Success
}

func (t *Tree) tickSetDeviceState(id NodeID, n *node, p SetDeviceState) Status {
	if err := t.env.Tool.Set(n.refs[refTarget], tst.ColState, p.State); err != nil {
		t.env.logger().Warn("[BTM] set device state failed", "tree", t.name(), "node", id, "state", p.State, "error", err)
		return Failure
	}
	return Success
}

func (t *Tree) tickRunBehavior(id NodeID, n *node) Status {
	for _, c := range n.children {
		cn := &t.nodes[c]
		if t.effectiveSource(cn) != FromValue {
			continue
		}
		p := cn.params.(RunBehaviorSetpoint)
		if t.env.Behaviors == nil {
			t.env.logger().Warn("[BTM] no behavior scheduler", "tree", t.name(), "node", id, "behavior", p.Behavior)
			continue
		}
		if err := t.env.Behaviors.RunAbortSiblings(cn.refs[refTarget], p.Behavior); err != nil {
			t.env.logger().Warn("[BTM] run behavior failed", "tree", t.name(), "node", id, "behavior", p.Behavior, "error", err)
		}
	}
	return Success
}

func (t *Tree) tickSetIcon(id NodeID, n *node) Status {
	for _, c := range n.children {
		cn := &t.nodes[c]
		src := t.effectiveSource(cn)
		if src == NoSet {
			continue
		}
		p := cn.params.(PropertySetpoint)
		v, err := t.resolve(cn, src, p.Value)
		if err == nil {
			err = t.env.Tool.SetIconProperty(cn.refs[refTarget], p.Property, v)
		}
		if err != nil {
			t.env.logger().Debug("[BTM] set icon failed", "tree", t.name(), "node", id, "property", p.Property, "error", err)
		}
	}
	return Success
}

func (t *Tree) tickMessage(p Message) Status {
	t.raiseAlert(AlertMessage, p.Text)
	if t.targetH.Valid() {
		_ = t.env.Tool.Set(t.targetH, tst.ColInfoText, p.Text)
	}
	return Success
}

func (t *Tree) tickDialog(id NodeID, n *node, p Dialog, first bool) Status {
	if first {
		if t.env.Callbacks == nil {
			t.env.logger().Warn("[BTM] dialog without a UI", "tree", t.name(), "node", id, "title", p.Title)
			return Failure
		}
		n.dialog = t.env.Callbacks.Dialog(p.Title, p.Text, p.AcceptLabel, p.RejectLabel)
		if n.dialog == nil {
			t.env.logger().Warn("[BTM] dialog not shown", "tree", t.name(), "node", id, "title", p.Title)
			return Failure
		}
	}
	select {
	case r, ok := <-n.dialog:
		n.dialog = nil
		if ok && r == DialogAccepted {
			return Success
		}
		return Failure
	default:
		return Running
	}
}

// raiseAlert reports through the callbacks, naming the system and device
// the tree is bound to.
func (t *Tree) raiseAlert(typ AlertType, text string) AlertHandle {
	tool := t.env.Tool
	system := tool.Name(tool.Ancestor(t.targetH, tst.KindSystem))
	device := tool.Name(tool.Ancestor(t.targetH, tst.KindDevice))
	if t.env.Callbacks == nil {
		t.env.logger().Info("[BTM] alert", "type", typ, "system", system, "device", device, "text", text)
		return nil
	}
	return t.env.Callbacks.Alert(typ, system, device, text)
}

func (t *Tree) name() string {
	return t.nodes[RootID].params.(RootSequence).Name
}
