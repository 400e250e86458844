// Package llm defines the contract between the conversation driver and a
// model provider, plus adapters for the Anthropic and OpenAI APIs. The driver
// treats the model as an opaque capability: it submits the conversation state
// and the current capability list, and gets back either a final answer or a
// set of requested invocations.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolRequest is one invocation the model asked for.
type ToolRequest struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ToolResult carries the outcome of one invocation back to the model. A
// failed invocation is represented with IsError set, not omitted; the model
// can react to the error content.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// Message is one turn of conversation state.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolRequest // set on assistant messages requesting invocations
	ToolResults []ToolResult  // set on tool messages answering them
}

// ToolDefinition declaratively exposes a callable capability to the model.
// Schema is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// Turn is the model's response for one iteration. A turn with Requests asks
// for invocations; FinalText may still carry text the model emitted alongside
// them, which stays in the transcript. Only a turn without Requests is a
// final answer.
type Turn struct {
	FinalText string
	Requests  []ToolRequest
}

// Caller is the model provider contract. Implementations pre-classify their
// failures: transient ones (rate limits, upstream 5xx) are wrapped in
// TransientError so a retry policy can distinguish them.
type Caller interface {
	Call(ctx context.Context, messages []Message, tools []ToolDefinition) (*Turn, error)
	Name() string
}

// TransientError marks a failure as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps an error as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether an error was classified retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// transientStatus classifies an HTTP status from a provider API.
// 429 and all 5xx are retryable; everything else is permanent.
func transientStatus(status int) bool {
	return status == 429 || status >= 500
}
