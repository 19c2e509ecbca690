package orchestrator

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultQueryCacheSize bounds the compiled query cache when no size is
// configured.
const DefaultQueryCacheSize = 256

// programCache is an LRU of compiled query programs keyed by source.
type programCache struct {
	mu     sync.Mutex
	max    int
	byExpr map[string]*list.Element
	order  *list.List
	hits   int64
	misses int64
}

type cached struct {
	source  string
	program *vm.Program
}

func newProgramCache(max int) *programCache {
	if max <= 0 {
		max = DefaultQueryCacheSize
	}
	return &programCache{max: max, byExpr: make(map[string]*list.Element, max), order: list.New()}
}

func (c *programCache) get(source string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byExpr[source]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*cached).program, true
}

func (c *programCache) put(source string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byExpr[source]; ok {
		el.Value.(*cached).program = program
		c.order.MoveToFront(el)
		return
	}
	c.byExpr[source] = c.order.PushFront(&cached{source: source, program: program})
	for c.order.Len() > c.max {
		last := c.order.Back()
		delete(c.byExpr, last.Value.(*cached).source)
		c.order.Remove(last)
	}
}

func (c *programCache) stats() (size int, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.hits, c.misses
}

// Query evaluates an expression against a snapshot of the tool. Containers
// are nested maps keyed by name, so `Chamber.Pump.Pressure > 5` reads an
// analog value and `Chamber.Pump._state == "On"` a device state. Names that
// are not identifiers can be indexed: `Chamber["Pump 2"]`.
func (o *Orchestrator) Query(source string) (any, error) {
	program, ok := o.queries.get(source)
	if !ok {
		var err error
		program, err = expr.Compile(source, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("orchestrator: compile query: %w", err)
		}
		o.queries.put(source, program)
	}
	out, err := expr.Run(program, o.tool.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: run query: %w", err)
	}
	return out, nil
}

// QueryBool evaluates a boolean expression, like Query.
func (o *Orchestrator) QueryBool(source string) (bool, error) {
	out, err := o.Query(source)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("orchestrator: query %q yields %T, not bool", source, out)
	}
	return b, nil
}

// QueryCacheStats reports the compiled query cache size and hit counts.
func (o *Orchestrator) QueryCacheStats() (size int, hits, misses int64) {
	return o.queries.stats()
}
