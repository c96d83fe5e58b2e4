package operator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/syntrixbase/postfeed/internal/feed/events"
)

// Filter drops sink records for which a CEL expression over `record` is false.
// Deletes always pass so that a filter never strands cached entries.
type Filter struct {
	expr    string
	program cel.Program
	logger  *slog.Logger
}

// NewFilter compiles expr. The expression sees `record` as a map with the keys
// postId, authorId, operationType, timestamp, followerIds and document.
func NewFilter(expr string, logger *slog.Logger) (*Filter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("CEL environment error: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}

	return &Filter{
		expr:    expr,
		program: prg,
		logger:  logger.With("component", "feed-filter"),
	}, nil
}

func (f *Filter) Name() string {
	return "filter"
}

// Run implements Operator.
func (f *Filter) Run(ctx context.Context, env *Envelope) (*Envelope, error) {
	if env.Record == nil || env.Record.Type == events.OperationDelete {
		return env, nil
	}

	out, _, err := f.program.ContextEval(ctx, map[string]any{
		"record": env.Record.Map(),
	})
	if err != nil {
		// Missing fields are common in user documents; treat as no match
		f.logger.Debug("filter evaluation failed", "postId", env.Record.PostID, "error", err)
		return nil, nil
	}

	match, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("CEL filter must return boolean, got %T", out.Value())
	}
	if !match {
		return nil, nil
	}
	return env, nil
}
