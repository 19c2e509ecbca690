// Package persist reads and writes tool documents.
//
// A document is a tree of records. Every record is an object carrying its
// variant in "type_info", its payload attributes by name and, for
// containers, a nested "children" list. Containers may also carry a
// "behaviors" list of behavior tree records targeting that container.
// Unknown attributes are ignored and missing attributes take their zero
// value. A record that cannot be loaded is reported as a configuration
// error and its subtree is skipped; the rest of the document still loads.
package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/joeycumines/toolbt/internal/btm"
	"github.com/joeycumines/toolbt/internal/tst"
)

// Reserved record keys.
const (
	KeyType      = "type_info"
	KeyChildren  = "children"
	KeyBehaviors = "behaviors"
)

// ErrConfiguration marks an invalid record.
var ErrConfiguration = errors.New("configuration error")

// Record is one decoded record.
type Record = map[string]any

// Document is a loaded tool with its behaviors.
type Document struct {
	Tool      *tst.Tree
	Behaviors []*btm.Tree
}

func configErr(at string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrConfiguration, at, fmt.Sprintf(format, args...))
}

// DecodeTool builds a document from its root record. The returned error
// joins every configuration error found; the document is nil only when the
// root itself is unusable.
func DecodeTool(rec Record) (*Document, error) {
	if ti, _ := rec[KeyType].(string); ti != tst.KindTool.String() {
		return nil, configErr("$", "root type_info is %q, want %q", ti, tst.KindTool.String())
	}
	var cfg tst.ToolConfig
	if err := decodePayload(rec, &cfg); err != nil {
		return nil, configErr("$", "%v", err)
	}
	d := &decoder{doc: &Document{Tool: tst.New(cfg)}}
	d.container(d.doc.Tool.Root(), rec, "$")
	return d.doc, errors.Join(d.errs...)
}

type decoder struct {
	doc  *Document
	errs []error
}

func (d *decoder) fail(err error) { d.errs = append(d.errs, err) }

// container loads the children and behaviors of the record of h.
func (d *decoder) container(h tst.Handle, rec Record, at string) {
	children, err := records(rec[KeyChildren])
	if err != nil {
		d.fail(configErr(at, "children: %v", err))
	}
	for i, c := range children {
		d.entity(h, c, at+"."+KeyChildren+"["+strconv.Itoa(i)+"]")
	}
	behaviors, err := records(rec[KeyBehaviors])
	if err != nil {
		d.fail(configErr(at, "behaviors: %v", err))
	}
	target := d.doc.Tool.Path(h)
	for i, b := range behaviors {
		tree, err := decodeBehavior(b, target, at+"."+KeyBehaviors+"["+strconv.Itoa(i)+"]")
		if tree != nil {
			d.doc.Behaviors = append(d.doc.Behaviors, tree)
		}
		if err != nil {
			d.fail(err)
		}
	}
}

func (d *decoder) entity(parent tst.Handle, rec Record, at string) {
	ti, _ := rec[KeyType].(string)
	if ti == "" {
		d.fail(configErr(at, "missing type_info"))
		return
	}
	kind, ok := tst.ParseKind(ti)
	if !ok || kind == tst.KindTool {
		d.fail(configErr(at, "unknown type_info %q", ti))
		return
	}
	cfg := tst.NewConfig(kind)
	if err := decodePayload(rec, cfg); err != nil {
		d.fail(configErr(at, "%s: %v", ti, err))
		return
	}
	h, err := d.doc.Tool.Add(parent, cfg)
	if err != nil {
		d.fail(configErr(at, "%v", err))
		return
	}
	if kind.IsContainer() {
		d.container(h, rec, at)
	} else if _, ok := rec[KeyChildren]; ok {
		d.fail(configErr(at, "%s cannot have children", ti))
	}
}

// DecodeBehavior builds a behavior tree owned by target from its root
// record.
func DecodeBehavior(rec Record, target string) (*btm.Tree, error) {
	return decodeBehavior(rec, target, "$")
}

func decodeBehavior(rec Record, target, at string) (*btm.Tree, error) {
	if ti, _ := rec[KeyType].(string); ti != btm.TypeRootSequence.String() {
		return nil, configErr(at, "behavior type_info is %q, want %q", ti, btm.TypeRootSequence.String())
	}
	var root btm.RootSequence
	if err := decodePayload(rec, &root); err != nil {
		return nil, configErr(at, "%v", err)
	}
	tree := btm.New(target, root)
	var errs []error
	decodeNodes(tree, btm.RootID, rec, at, &errs)
	return tree, errors.Join(errs...)
}

func decodeNodes(tree *btm.Tree, parent btm.NodeID, rec Record, at string, errs *[]error) {
	children, err := records(rec[KeyChildren])
	if err != nil {
		*errs = append(*errs, configErr(at, "children: %v", err))
	}
	for i, c := range children {
		cat := at + "." + KeyChildren + "[" + strconv.Itoa(i) + "]"
		ti, _ := c[KeyType].(string)
		typ, ok := btm.ParseNodeType(ti)
		if !ok {
			*errs = append(*errs, configErr(cat, "unknown type_info %q", ti))
			continue
		}
		params := btm.NewParams(typ)
		if err := decodePayload(c, params); err != nil {
			*errs = append(*errs, configErr(cat, "%s: %v", ti, err))
			continue
		}
		id, err := tree.Add(parent, params)
		if err != nil {
			*errs = append(*errs, configErr(cat, "%v", err))
			continue
		}
		decodeNodes(tree, id, c, cat, errs)
	}
}

// records converts a decoded list into records.
func records(v any) ([]Record, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not a list")
	}
	out := make([]Record, 0, len(list))
	for i, item := range list {
		rec, ok := item.(Record)
		if !ok {
			return out, fmt.Errorf("item %d is not a record", i)
		}
		out = append(out, rec)
	}
	return out, nil
}

// decodePayload assigns the non-reserved attributes of rec into dst by
// their JSON names.
func decodePayload(rec Record, dst any) error {
	payload := make(Record, len(rec))
	for k, v := range rec {
		switch k {
		case KeyType, KeyChildren, KeyBehaviors:
		default:
			payload[k] = v
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// encodePayload renders v as a record tagged with typ.
func encodePayload(typ string, v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	rec = normalize(rec).(Record)
	rec[KeyType] = typ
	return rec, nil
}

// EncodeTool renders doc as its root record. Behaviors are nested under the
// container their target names, in document order; a behavior whose target
// no longer resolves is nested under the root.
func EncodeTool(doc *Document) (Record, error) {
	tool := doc.Tool
	owned := make(map[tst.Handle][]*btm.Tree)
	for _, b := range doc.Behaviors {
		h := tool.Lookup(b.Target())
		if !tool.Kind(h).IsContainer() {
			h = tool.Root()
		}
		owned[h] = append(owned[h], b)
	}
	return encodeEntity(tool, tool.Root(), owned)
}

func encodeEntity(tool *tst.Tree, h tst.Handle, owned map[tst.Handle][]*btm.Tree) (Record, error) {
	kind := tool.Kind(h)
	rec, err := encodePayload(kind.String(), tool.Config(h))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tool.Path(h), err)
	}
	if !kind.IsContainer() {
		return rec, nil
	}
	children := make([]any, 0)
	for _, c := range tool.Children(h) {
		cr, err := encodeEntity(tool, c, owned)
		if err != nil {
			return nil, err
		}
		children = append(children, cr)
	}
	rec[KeyChildren] = children
	if bs := owned[h]; len(bs) != 0 {
		list := make([]any, 0, len(bs))
		for _, b := range bs {
			br, err := EncodeBehavior(b)
			if err != nil {
				return nil, err
			}
			list = append(list, br)
		}
		rec[KeyBehaviors] = list
	}
	return rec, nil
}

// EncodeBehavior renders tree as its root record.
func EncodeBehavior(tree *btm.Tree) (Record, error) {
	return encodeNode(tree, btm.RootID)
}

func encodeNode(tree *btm.Tree, id btm.NodeID) (Record, error) {
	p := tree.Params(id)
	rec, err := encodePayload(p.Type().String(), p)
	if err != nil {
		return nil, fmt.Errorf("encode %s node %d: %w", tree, id, err)
	}
	if ids := tree.Children(id); len(ids) != 0 {
		children := make([]any, 0, len(ids))
		for _, c := range ids {
			cr, err := encodeNode(tree, c)
			if err != nil {
				return nil, err
			}
			children = append(children, cr)
		}
		rec[KeyChildren] = children
	}
	return rec, nil
}
