package llm

import (
	"context"
	"sync"
)

// Step is one scripted model response.
type Step struct {
	Turn *Turn
	Err  error
}

// Scripted is a deterministic Caller for tests. Each Call consumes the next
// step; once the script is exhausted, the last step repeats, which makes it
// easy to model a provider that keeps asking for tools forever.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls int
}

// NewScripted creates a scripted caller. At least one step is required to
// produce responses; an empty script always returns an empty final turn.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Call(ctx context.Context, messages []Message, tools []ToolDefinition) (*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	s.calls++
	if len(s.steps) == 0 {
		return &Turn{}, nil
	}
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	step := s.steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Turn, nil
}

// Calls reports how many times Call has been invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
