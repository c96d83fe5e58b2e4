// Package operator implements the transform chain between the change source
// and the feed sink.
package operator

import (
	"context"
	"fmt"

	"github.com/syntrixbase/postfeed/internal/feed/events"
)

// Envelope carries one change event through the chain. Record is nil until
// an operator has produced the sink record.
type Envelope struct {
	Event  *events.ChangeEvent
	Record *events.SinkRecord
}

// Operator transforms an envelope. Returning a nil envelope and a nil error
// skips the event: it is not an error and the sink is not called.
type Operator interface {
	Name() string
	Run(ctx context.Context, env *Envelope) (*Envelope, error)
}

// Chain runs operators left to right.
type Chain struct {
	operators []Operator
}

// NewChain creates a chain of the given operators, nil entries are dropped.
func NewChain(operators ...Operator) *Chain {
	ops := make([]Operator, 0, len(operators))
	for _, op := range operators {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return &Chain{operators: ops}
}

// Len returns the number of operators.
func (c *Chain) Len() int {
	return len(c.operators)
}

// Run passes env through every operator. When an operator skips the event,
// Run returns a nil envelope and the name of that operator.
func (c *Chain) Run(ctx context.Context, env *Envelope) (*Envelope, string, error) {
	for _, op := range c.operators {
		out, err := op.Run(ctx, env)
		if err != nil {
			return nil, op.Name(), fmt.Errorf("operator %s: %w", op.Name(), err)
		}
		if out == nil {
			return nil, op.Name(), nil
		}
		env = out
	}
	return env, "", nil
}
