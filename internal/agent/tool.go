package agent

import "context"

// Output is what a tool hands back to the runtime after a successful call.
type Output struct {
	Summary string
	Data    any
}

// Tool is a named unit of work run by the Runtime. C is the read-only context
// shared by every step of a plan and S is the accumulated state.
type Tool[C, S any] interface {
	Name() string
	// Execute runs the tool. It must not mutate state.
	Execute(ctx context.Context, input any, env C, state S) (Output, error)
	// Fold merges the data of a successful Execute into state.
	Fold(state S, data any) S
}

// RunFunc is the typed body of a tool created with NewTool.
type RunFunc[C, S, D any] func(ctx context.Context, input any, env C, state S) (data D, summary string, err error)

// FoldFunc is a pure reducer folding a tool's typed output into the state.
type FoldFunc[S, D any] func(state S, data D) S

type typedTool[C, S, D any] struct {
	name string
	run  RunFunc[C, S, D]
	fold FoldFunc[S, D]
}

// NewTool pairs a run function with the fold for its output type, so a plan
// cannot feed one tool's data into another tool's reducer. A nil fold leaves
// the state untouched.
func NewTool[C, S, D any](name string, run RunFunc[C, S, D], fold FoldFunc[S, D]) Tool[C, S] {
	return &typedTool[C, S, D]{name: name, run: run, fold: fold}
}

func (t *typedTool[C, S, D]) Name() string { return t.name }

func (t *typedTool[C, S, D]) Execute(ctx context.Context, input any, env C, state S) (Output, error) {
	data, summary, err := t.run(ctx, input, env, state)
	if err != nil {
		return Output{}, err
	}
	return Output{Summary: summary, Data: data}, nil
}

func (t *typedTool[C, S, D]) Fold(state S, data any) S {
	if t.fold == nil {
		return state
	}
	d, ok := data.(D)
	if !ok {
		return state
	}
	return t.fold(state, d)
}
