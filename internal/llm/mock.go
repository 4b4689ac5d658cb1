package llm

import (
	"context"
	"sync"
)

// MockCompleter returns canned responses and records the prompts it receives.
// Fn, when set, takes precedence over Response and Err.
type MockCompleter struct {
	Response string
	Err      error
	Fn       func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

// NewMockCompleter returns a MockCompleter that always answers response.
func NewMockCompleter(response string) *MockCompleter {
	return &MockCompleter{Response: response}
}

// Complete records prompt and returns the canned answer.
func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.Fn != nil {
		return m.Fn(prompt)
	}
	return m.Response, m.Err
}

// Calls returns how many times Complete was called.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of the received prompts.
func (m *MockCompleter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Ping always succeeds.
func (m *MockCompleter) Ping(context.Context) error { return nil }
