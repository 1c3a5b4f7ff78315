// Package formula compiles and evaluates the restricted expression language of
// formula metrics. Expressions reference metric values as {{metricId}} and may
// call a fixed set of helper functions; nothing else is reachable.
package formula

import (
	"errors"
	"fmt"
)

var (
	ErrCompile  = errors.New("formula compile failed")
	ErrEvaluate = errors.New("formula evaluation failed")
)

// Lookup resolves a referenced metric id at the current position.
type Lookup func(id string) (any, bool)

// Program is a compiled expression. It is immutable and safe to share.
type Program struct {
	source string
	root   node
	refs   []string
}

// Compile parses an expression into a Program.
func Compile(expression string) (*Program, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	if len(tokens) == 1 {
		return nil, fmt.Errorf("%w: empty expression", ErrCompile)
	}
	root, refs, err := parse(tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return &Program{source: expression, root: root, refs: refs}, nil
}

// References lists the metric ids used by the expression in first-use order.
func (p *Program) References() []string {
	return append([]string(nil), p.refs...)
}

func (p *Program) String() string {
	return p.source
}

// Eval runs the program against one position.
func (p *Program) Eval(lookup Lookup) (any, error) {
	value, err := p.root.eval(&env{lookup: lookup})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluate, err)
	}
	return value, nil
}

type env struct {
	lookup Lookup
}
