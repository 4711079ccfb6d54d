// Package condition provides an expr-lang-backed, LRU-cached condition
// evaluator used by the Scheduler's conditional-edge dispatch (§4.4
// "evaluateSourceHandleCondition" analog).
package condition

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Cache is a thread-safe LRU cache of compiled expr-lang programs, keyed by
// the raw expression text.
type Cache struct {
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
	mu       sync.RWMutex
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

// NewCache builds a Cache with the given capacity (defaults to 100 when
// non-positive).
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache{capacity: capacity, entries: make(map[string]*list.Element), lru: list.New()}
}

// Get retrieves a compiled program from cache.
func (c *Cache) Get(expression string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[expression]; ok {
		c.lru.MoveToFront(el)
		return el.Value.(*cacheEntry).program, true
	}
	return nil, false
}

// Put stores a compiled program in cache, evicting the least-recently-used
// entry if the cache is over capacity.
func (c *Cache) Put(expression string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[expression]; ok {
		c.lru.MoveToFront(el)
		el.Value.(*cacheEntry).program = program
		return
	}
	el := c.lru.PushFront(&cacheEntry{key: expression, program: program})
	c.entries[expression] = el
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// CompileAndCache compiles expression against env (used only to derive the
// variable set — expr.Compile does not retain it) and caches the result.
func (c *Cache) CompileAndCache(expression string, env interface{}) (*vm.Program, error) {
	if program, ok := c.Get(expression); ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, err
	}
	c.Put(expression, program)
	return program, nil
}

// Evaluator evaluates a boolean condition expression against a node's
// output document, with a compiled-program LRU cache. Used by the
// Scheduler for conditional edges (§4.4).
type Evaluator struct {
	cache *Cache
}

// NewEvaluator builds an Evaluator with the given cache capacity.
func NewEvaluator(cacheCapacity int) *Evaluator {
	return &Evaluator{cache: NewCache(cacheCapacity)}
}

// Evaluate evaluates condition against output. An empty condition is always
// true (an edge with no condition is unconditional).
func (e *Evaluator) Evaluate(expression string, output map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	env := map[string]interface{}{"output": output}
	program, err := e.cache.CompileAndCache(expression, env)
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition must evaluate to a boolean, got %T", result)
	}
	return boolResult, nil
}
