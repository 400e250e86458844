package host

import (
	"context"
	"fmt"
	"testing"

	"conductor/internal/llm"
	"conductor/internal/router"
	"conductor/internal/session"
	"conductor/internal/transport"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a transport.Client serving a fixed tool set.
type fakeServer struct {
	name  string
	tools []mcp.Tool
}

func (f *fakeServer) Initialize(ctx context.Context) error { return nil }
func (f *fakeServer) Close() error                         { return nil }
func (f *fakeServer) ProtocolVersion() string              { return "2024-11-05" }
func (f *fakeServer) Ping(ctx context.Context) error       { return nil }

func (f *fakeServer) ListTools(ctx context.Context) ([]mcp.Tool, error) { return f.tools, nil }

func (f *fakeServer) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: fmt.Sprintf("%s served %s", f.name, name)}},
	}, nil
}

func (f *fakeServer) ListResources(ctx context.Context) ([]mcp.Resource, error) { return nil, nil }

func (f *fakeServer) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeServer) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) { return nil, nil }

func (f *fakeServer) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

// serverFactory hands out fake servers keyed by the stdio command.
func serverFactory(servers map[string]*fakeServer) transport.Factory {
	return func(desc transport.Descriptor) (transport.Client, error) {
		srv, ok := servers[desc.Command]
		if !ok {
			return nil, fmt.Errorf("unknown server %q", desc.Command)
		}
		return srv, nil
	}
}

func sessionConfig(id, command string, weight float64) session.Config {
	return session.Config{
		ID:        id,
		Transport: transport.Descriptor{Type: transport.TypeStdio, Command: command},
		Weight:    weight,
	}
}

func newTestHost(t *testing.T, servers map[string]*fakeServer, caller llm.Caller) *Host {
	t.Helper()
	h := New(context.Background(), Settings{MaxIterations: 5, DefaultWeight: 1.0}, serverFactory(servers), caller)
	t.Cleanup(func() { _ = h.Shutdown() })
	return h
}

func TestRegisterListInvoke(t *testing.T) {
	servers := map[string]*fakeServer{
		"searchd": {name: "searchd", tools: []mcp.Tool{{Name: "lookup", Description: "looks things up"}}},
	}
	h := newTestHost(t, servers, nil)

	handle, err := h.RegisterSession(sessionConfig("s1", "searchd", 1.0))
	require.NoError(t, err)
	assert.Equal(t, 1, handle.Admitted)

	records := h.ListCapabilities(router.KindAction, "")
	require.Len(t, records, 1)
	assert.Equal(t, "lookup", records[0].Name)

	result, err := h.InvokeCapability(context.Background(), "lookup", nil)
	require.NoError(t, err)
	assert.Equal(t, "searchd served lookup", result.Content)
}

func TestWeightedFailover(t *testing.T) {
	servers := map[string]*fakeServer{
		"a-srv": {name: "a", tools: []mcp.Tool{{Name: "lookup"}}},
		"b-srv": {name: "b", tools: []mcp.Tool{{Name: "lookup"}}},
	}
	h := newTestHost(t, servers, nil)

	_, err := h.RegisterSession(sessionConfig("a", "a-srv", 1.0))
	require.NoError(t, err)
	_, err = h.RegisterSession(sessionConfig("b", "b-srv", 2.0))
	require.NoError(t, err)

	result, err := h.InvokeCapability(context.Background(), "lookup", nil)
	require.NoError(t, err)
	assert.Equal(t, "b served lookup", result.Content)

	require.NoError(t, h.DeregisterSession("b"))
	result, err = h.InvokeCapability(context.Background(), "lookup", nil)
	require.NoError(t, err)
	assert.Equal(t, "a served lookup", result.Content)

	require.NoError(t, h.DeregisterSession("a"))
	_, err = h.InvokeCapability(context.Background(), "lookup", nil)
	var noProvider *router.NoProviderError
	require.ErrorAs(t, err, &noProvider)
}

func TestRunConversationEndToEnd(t *testing.T) {
	servers := map[string]*fakeServer{
		"searchd": {name: "searchd", tools: []mcp.Tool{{Name: "lookup"}}},
	}
	caller := llm.NewScripted(
		llm.Step{Turn: &llm.Turn{Requests: []llm.ToolRequest{{ID: "c1", Name: "lookup", Args: map[string]interface{}{}}}}},
		llm.Step{Turn: &llm.Turn{FinalText: "all done"}},
	)
	h := newTestHost(t, servers, caller)

	_, err := h.RegisterSession(sessionConfig("s1", "searchd", 1.0))
	require.NoError(t, err)

	result := h.RunConversation(context.Background(), "find me things", "")
	require.NoError(t, result.Err)
	assert.Equal(t, "all done", result.FinalText)
	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "searchd served lookup", result.Invocations[0].Content)
}

func TestRunConversationFailureIsReturnedNotRaised(t *testing.T) {
	caller := llm.NewScripted(llm.Step{Err: fmt.Errorf("model unavailable")})
	h := newTestHost(t, map[string]*fakeServer{}, caller)

	result := h.RunConversation(context.Background(), "hello", "")
	require.Error(t, result.Err)
	assert.Empty(t, result.FinalText)
}

func TestRunConversationWithoutCallerFails(t *testing.T) {
	// A host wired for capability operations only still answers a
	// conversation request with a failed result, not a panic.
	h := newTestHost(t, map[string]*fakeServer{}, nil)

	result := h.RunConversation(context.Background(), "hello", "")
	require.Error(t, result.Err)
	assert.Empty(t, result.FinalText)
}

func TestSessionFailureDoesNotAbortHost(t *testing.T) {
	servers := map[string]*fakeServer{
		"goodd": {name: "good", tools: []mcp.Tool{{Name: "works"}}},
	}
	h := newTestHost(t, servers, nil)

	_, err := h.RegisterSession(sessionConfig("good", "goodd", 1.0))
	require.NoError(t, err)

	_, err = h.RegisterSession(sessionConfig("bad", "no-such-binary", 1.0))
	var startupErr *session.StartupError
	require.ErrorAs(t, err, &startupErr)

	// The healthy session keeps serving.
	result, invokeErr := h.InvokeCapability(context.Background(), "works", nil)
	require.NoError(t, invokeErr)
	assert.Equal(t, "good served works", result.Content)
}

func TestShutdownStopsEverything(t *testing.T) {
	servers := map[string]*fakeServer{
		"a-srv": {name: "a", tools: []mcp.Tool{{Name: "t"}}},
	}
	h := New(context.Background(), Settings{}, serverFactory(servers), nil)

	_, err := h.RegisterSession(sessionConfig("a", "a-srv", 1.0))
	require.NoError(t, err)

	require.NoError(t, h.Shutdown())
	assert.Empty(t, h.Sessions())
	assert.Empty(t, h.ListCapabilities(router.KindAction, ""))
}
