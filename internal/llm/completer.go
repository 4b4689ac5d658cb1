// Package llm talks to the completion service that writes answers and comparisons.
package llm

import "context"

// Completer turns a prompt into completion text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Pinger is implemented by completers that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
