package agent

import "context"

// Decider inspects the history and proposes the next assistant message
type Decider interface {
	Decide(ctx context.Context, history []Message) (Message, error)
}

// DeciderFunc adapts a function to Decider
type DeciderFunc func(ctx context.Context, history []Message) (Message, error)

// Decide calls f
func (f DeciderFunc) Decide(ctx context.Context, history []Message) (Message, error) {
	return f(ctx, history)
}
