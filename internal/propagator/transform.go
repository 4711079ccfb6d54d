package propagator

import (
	"context"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"
)

// Transformer evaluates the stringly-typed mapping "transformation"
// expressions described in §4.3/§9: an empty expression is identity, and a
// failing expression is logged at warning (by the caller) rather than
// failing the node. gojq is the chosen evaluator for the "future
// JSON-path/JMES-path evaluator" §9 leaves open.
type Transformer struct {
	mu    sync.Mutex
	cache map[string]*gojq.Code
}

// NewTransformer builds a Transformer with an empty compiled-query cache.
func NewTransformer() *Transformer {
	return &Transformer{cache: make(map[string]*gojq.Code)}
}

// Apply evaluates expression against value. An empty expression returns
// value unchanged (identity).
func (t *Transformer) Apply(expression string, value any) (any, error) {
	if expression == "" {
		return value, nil
	}

	t.mu.Lock()
	code, ok := t.cache[expression]
	t.mu.Unlock()
	if !ok {
		query, err := gojq.Parse(expression)
		if err != nil {
			return value, fmt.Errorf("parse transformation %q: %w", expression, err)
		}
		compiled, err := gojq.Compile(query)
		if err != nil {
			return value, fmt.Errorf("compile transformation %q: %w", expression, err)
		}
		t.mu.Lock()
		t.cache[expression] = compiled
		t.mu.Unlock()
		code = compiled
	}

	iter := code.RunWithContext(context.Background(), value)
	result, ok := iter.Next()
	if !ok {
		return value, nil
	}
	if err, isErr := result.(error); isErr {
		return value, fmt.Errorf("run transformation %q: %w", expression, err)
	}
	return result, nil
}
