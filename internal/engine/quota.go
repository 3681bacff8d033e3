package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxDepth is the default limit on recipe nesting.
const DefaultMaxDepth = 64

// DepthGuard tracks how deeply recipes and primitives are nested within
// one reduction and enforces a maximum.
//
// Recipes may invoke other recipes by name. A recipe that reaches itself
// through such invocations would otherwise recurse until the stack runs
// out.
type DepthGuard struct {
	maxDepth int
	current  int
	stack    []string
}

// NewDepthGuard creates a guard with the given limit.
func NewDepthGuard(maxDepth int) *DepthGuard {
	return &DepthGuard{maxDepth: maxDepth}
}

// Enter records entry into step name. It returns DepthExceededError if
// the limit would be exceeded; in that case the step is not recorded and
// Leave must not be called.
func (g *DepthGuard) Enter(name string) error {
	if g.current >= g.maxDepth {
		trail := make([]string, len(g.stack), len(g.stack)+1)
		copy(trail, g.stack)
		return &DepthExceededError{
			Step:  name,
			Depth: g.current + 1,
			Limit: g.maxDepth,
			Trail: append(trail, name),
		}
	}
	g.current++
	g.stack = append(g.stack, name)
	return nil
}

// Leave records exit from the innermost step.
func (g *DepthGuard) Leave() {
	if g.current == 0 {
		return
	}
	g.current--
	g.stack = g.stack[:len(g.stack)-1]
}

// Current returns the current nesting depth.
func (g *DepthGuard) Current() int {
	return g.current
}

// DepthExceededError is returned when recipe nesting exceeds the limit.
type DepthExceededError struct {
	Step  string   // step that would have exceeded the limit
	Depth int      // depth it would have run at
	Limit int      // maximum allowed depth
	Trail []string // enclosing steps, outermost first
}

// Error implements the error interface.
func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("step %s exceeded max nesting depth: %d > %d limit", e.Step, e.Depth, e.Limit)
}

// IsDepthExceededError returns true if the error is a DepthExceededError.
// Uses errors.As to handle wrapped errors.
func IsDepthExceededError(err error) bool {
	var de *DepthExceededError
	return errors.As(err, &de)
}
