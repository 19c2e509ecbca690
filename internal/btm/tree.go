package btm

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/toolbt/internal/tst"
)

// NodeID indexes a node within its tree. The root is always 0.
type NodeID int32

// RootID is the id of the root sequence.
const RootID NodeID = 0

// maxRefs is the number of TST references a node can hold.
const maxRefs = 4

type node struct {
	params   Params
	parent   NodeID
	children []NodeID

	status    Status
	current   int
	remaining int
	iteration Status
	startedAt time.Time
	alert     AlertHandle
	dialog    <-chan DialogResult

	refs [maxRefs]tst.Handle
}

// Tree is a behavior tree model: a dense arena of nodes rooted at a
// RootSequence, bound to one TST container (its target). Trees are ticked
// by a single runner at a time.
type Tree struct {
	id     uuid.UUID
	target string

	mu       sync.Mutex
	nodes    []node
	targetH  tst.Handle
	env      *Env
	bindErrs []error
}

// New constructs a tree holding only its root. target is the tool path of
// the owning container, "" for the tool itself.
func New(target string, root RootSequence) *Tree {
	return &Tree{
		id:     uuid.New(),
		target: target,
		nodes:  []node{{params: root, parent: -1}},
	}
}

// ID is the instance id of t, unique per process.
func (t *Tree) ID() uuid.UUID { return t.id }

// Name is the root sequence's name.
func (t *Tree) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes[RootID].params.(RootSequence).Name
}

// Root returns the root sequence parameters.
func (t *Tree) Root() RootSequence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes[RootID].params.(RootSequence)
}

// Target is the tool path of the owning container.
func (t *Tree) Target() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// TargetHandle is the resolved owning container, valid after SyncToTool.
func (t *Tree) TargetHandle() tst.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetH
}

// SetEnv attaches the runtime environment used by Tick.
func (t *Tree) SetEnv(env *Env) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.env = env
}

// Add appends a node built from params under parent, returning its id.
// Branches hold branches and leaves, leaves hold only their property type,
// properties hold nothing.
func (t *Tree) Add(parent NodeID, params Params) (NodeID, error) {
	if params == nil {
		return 0, fmt.Errorf("%w: nil params", ErrPlacement)
	}
	params = derefParams(params)
	t.mu.Lock()
	defer t.mu.Unlock()
	if parent < 0 || int(parent) >= len(t.nodes) {
		return 0, fmt.Errorf("%w: no parent %d", ErrPlacement, parent)
	}
	pt, ct := t.nodes[parent].params.Type(), params.Type()
	if ct == TypeRootSequence || !canHold(pt, ct) {
		return 0, fmt.Errorf("%w: %s cannot hold %s", ErrPlacement, pt, ct)
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{params: params, parent: parent})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id, nil
}

func canHold(parent, child NodeType) bool {
	switch parent.Shape() {
	case Branch:
		s := child.Shape()
		return s == Branch || s == Leaf
	case Leaf:
		return parent.propertyOf() != TypeInvalid && parent.propertyOf() == child
	}
	return false
}

// Len is the number of nodes.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// Params returns the parameters of id.
func (t *Tree) Params(id NodeID) Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id].params
}

// Children returns the child ids of id.
func (t *Tree) Children(id NodeID) []NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return append([]NodeID(nil), t.nodes[id].children...)
}

// Status is the root status.
func (t *Tree) Status() Status { return t.NodeStatus(RootID) }

// NodeStatus is the status of id.
func (t *Tree) NodeStatus(id NodeID) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || int(id) >= len(t.nodes) {
		return Unvisited
	}
	return t.nodes[id].status
}

// Reset clears the status and resumable state of every node.
func (t *Tree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset(RootID)
}

func (t *Tree) reset(id NodeID) {
	n := &t.nodes[id]
	n.status = Unvisited
	n.current = 0
	n.remaining = 0
	n.iteration = Unvisited
	n.startedAt = time.Time{}
	n.alert = nil
	n.dialog = nil
	for _, c := range n.children {
		t.reset(c)
	}
}

// Tick advances the tree once and returns the root status. It panics if no
// environment was attached.
func (t *Tree) Tick() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.env == nil || t.env.Tool == nil {
		panic(fmt.Sprintf("btm: tree %q ticked without an environment", t.nodes[RootID].params.(RootSequence).Name))
	}
	return t.tick(RootID)
}

// Node exposes t as a go-behaviortree node.
func (t *Tree) Node() bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		return t.Tick().BT(), nil
	})
}

func (t *Tree) String() string {
	return fmt.Sprintf("%s:%s", t.Target(), t.Name())
}
