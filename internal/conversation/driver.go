// Package conversation implements the bounded loop that alternates one model
// call with capability invocations until the model produces a final answer,
// the iteration budget is exhausted, or the model call itself fails.
package conversation

import (
	"context"
	"fmt"
	"sync"

	"conductor/internal/llm"
	"conductor/internal/registry"
	"conductor/internal/router"
	"conductor/pkg/logging"
)

// State identifies where a run is in its lifecycle.
type State string

const (
	StateComposing     State = "COMPOSING"
	StateAwaitingModel State = "AWAITING_MODEL"
	StateAwaitingTools State = "AWAITING_TOOLS"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// TerminationReason explains how a run ended.
type TerminationReason string

const (
	ReasonCompleted      TerminationReason = "completed"
	ReasonBudgetExceeded TerminationReason = "iteration_budget_exceeded"
	ReasonModelFailure   TerminationReason = "model_failure"
	ReasonCancelled      TerminationReason = "cancelled"
)

// IterationBudgetExceededError reports that a run hit its iteration cap
// without the model reaching a final answer.
type IterationBudgetExceededError struct {
	Max int
}

func (e *IterationBudgetExceededError) Error() string {
	return fmt.Sprintf("conversation exceeded the iteration budget of %d", e.Max)
}

// InvocationRecord is one capability call made during a run, kept for the
// run's audit trail.
type InvocationRecord struct {
	Name    string
	Args    map[string]interface{}
	Content string
	IsError bool
}

// Result is the structured outcome of a run. A failed run carries Err and an
// empty FinalText; it is returned, never raised, so callers can render a
// clean failure.
type Result struct {
	State             State
	FinalText         string
	Turns             []llm.Message
	Invocations       []InvocationRecord
	Iterations        int
	TerminationReason TerminationReason
	Err               error
}

// CapabilitySource is the registry surface the driver needs. The concrete
// implementation is registry.Registries.
type CapabilitySource interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) (*registry.Result, error)
	List(kind router.Kind, sessionID string) []router.Record
}

// Options configures a driver.
type Options struct {
	// MaxIterations caps the number of tool-dispatch rounds per run. It is a
	// hard cap, not a timeout; a model that loops on tool requests terminates
	// FAILED after exactly this many rounds.
	MaxIterations int

	// SystemPrompt, when set, is prepended to every run.
	SystemPrompt string

	// SessionFilter restricts the capability listing presented to the model
	// to one session. Routing of the resulting invocations is unaffected.
	SessionFilter string
}

// DefaultMaxIterations applies when Options.MaxIterations is zero.
const DefaultMaxIterations = 10

// Driver runs conversations against one model caller and one capability
// source. A driver is stateless across runs; concurrent runs are independent.
type Driver struct {
	caller llm.Caller
	caps   CapabilitySource
	opts   Options
}

// New creates a driver.
func New(caller llm.Caller, caps CapabilitySource, opts Options) *Driver {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Driver{
		caller: caller,
		caps:   caps,
		opts:   opts,
	}
}

// Run executes one conversation starting from initialMessage. Capability
// failures become error-carrying tool results the model can react to; only a
// model call failure or budget exhaustion fails the run.
func (d *Driver) Run(ctx context.Context, initialMessage string) *Result {
	result := &Result{State: StateComposing}

	// A driver without a model caller cannot run; the failure is returned
	// like every other conversation-level failure.
	if d.caller == nil {
		return d.fail(result, ReasonModelFailure, fmt.Errorf("no model caller configured"))
	}

	if d.opts.SystemPrompt != "" {
		result.Turns = append(result.Turns, llm.Message{Role: llm.RoleSystem, Content: d.opts.SystemPrompt})
	}
	result.Turns = append(result.Turns, llm.Message{Role: llm.RoleUser, Content: initialMessage})

	for {
		if err := ctx.Err(); err != nil {
			return d.fail(result, ReasonCancelled, err)
		}

		tools := d.toolDefinitions()

		result.State = StateAwaitingModel
		turn, err := d.caller.Call(ctx, result.Turns, tools)
		if err != nil {
			return d.fail(result, ReasonModelFailure, fmt.Errorf("model call failed: %w", err))
		}

		if len(turn.Requests) == 0 {
			result.Turns = append(result.Turns, llm.Message{Role: llm.RoleAssistant, Content: turn.FinalText})
			result.State = StateDone
			result.FinalText = turn.FinalText
			result.TerminationReason = ReasonCompleted
			logging.Debug("Conversation", "Run completed after %d iterations", result.Iterations)
			return result
		}

		// The budget gates tool dispatch, not the model call, so a final
		// answer arriving at the cap still completes the run.
		if result.Iterations >= d.opts.MaxIterations {
			return d.fail(result, ReasonBudgetExceeded, &IterationBudgetExceededError{Max: d.opts.MaxIterations})
		}

		result.Turns = append(result.Turns, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   turn.FinalText,
			ToolCalls: turn.Requests,
		})

		result.State = StateAwaitingTools
		toolResults := d.dispatch(ctx, turn.Requests)

		for i, tr := range toolResults {
			result.Invocations = append(result.Invocations, InvocationRecord{
				Name:    turn.Requests[i].Name,
				Args:    turn.Requests[i].Args,
				Content: tr.Content,
				IsError: tr.IsError,
			})
		}
		result.Turns = append(result.Turns, llm.Message{Role: llm.RoleTool, ToolResults: toolResults})

		result.Iterations++
		result.State = StateComposing
	}
}

// dispatch runs every requested invocation, concurrently, and slots each
// result or wrapped failure into position. The turn advances only once all
// have completed; the model never sees partial-turn progress.
func (d *Driver) dispatch(ctx context.Context, requests []llm.ToolRequest) []llm.ToolResult {
	results := make([]llm.ToolResult, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req llm.ToolRequest) {
			defer wg.Done()
			results[i] = d.invokeOne(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return results
}

func (d *Driver) invokeOne(ctx context.Context, req llm.ToolRequest) llm.ToolResult {
	res, err := d.caps.Invoke(ctx, req.Name, req.Args)
	if err != nil {
		logging.Debug("Conversation", "Invocation %q failed: %v", req.Name, err)
		return llm.ToolResult{
			ID:      req.ID,
			Name:    req.Name,
			Content: err.Error(),
			IsError: true,
		}
	}
	return llm.ToolResult{
		ID:      req.ID,
		Name:    req.Name,
		Content: res.Content,
		IsError: res.IsError,
	}
}

func (d *Driver) toolDefinitions() []llm.ToolDefinition {
	records := d.caps.List(router.KindAction, d.opts.SessionFilter)
	tools := make([]llm.ToolDefinition, 0, len(records))
	for _, rec := range records {
		tools = append(tools, llm.ToolDefinition{
			Name:        rec.Name,
			Description: rec.Description,
			Schema:      rec.Schema,
		})
	}
	return tools
}

func (d *Driver) fail(result *Result, reason TerminationReason, err error) *Result {
	result.State = StateFailed
	result.TerminationReason = reason
	result.Err = err
	result.FinalText = ""
	logging.Warn("Conversation", "Run failed after %d iterations: %v", result.Iterations, err)
	return result
}
