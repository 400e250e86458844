package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"conductor/internal/boundary"
	"conductor/internal/router"
	"conductor/internal/transport"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient implements transport.Client in memory.
type mockClient struct {
	tools     []mcp.Tool
	prompts   []mcp.Prompt
	resources []mcp.Resource

	callErr    error
	callResult *mcp.CallToolResult
	callDelay  time.Duration

	listToolsErr error
}

func (m *mockClient) Initialize(ctx context.Context) error { return nil }
func (m *mockClient) Close() error                         { return nil }
func (m *mockClient) ProtocolVersion() string              { return "2024-11-05" }
func (m *mockClient) Ping(ctx context.Context) error       { return nil }

func (m *mockClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return m.tools, m.listToolsErr
}

func (m *mockClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if m.callDelay > 0 {
		select {
		case <-time.After(m.callDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.callErr != nil {
		return nil, m.callErr
	}
	if m.callResult != nil {
		return m.callResult, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: fmt.Sprintf("result of %s", name)}},
	}, nil
}

func (m *mockClient) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return m.resources, nil
}

func (m *mockClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, Text: "resource body"},
		},
	}, nil
}

func (m *mockClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	return m.prompts, nil
}

func (m *mockClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Messages: []mcp.PromptMessage{
			{Role: "user", Content: mcp.TextContent{Type: "text", Text: "rendered " + name}},
		},
	}, nil
}

// mockSessions implements ClientSource.
type mockSessions struct {
	clients  map[string]transport.Client
	timeouts map[string]time.Duration
}

func (m *mockSessions) Client(sessionID string) (transport.Client, bool) {
	c, ok := m.clients[sessionID]
	return c, ok
}

func (m *mockSessions) InvokeTimeout(sessionID string) time.Duration {
	return m.timeouts[sessionID]
}

func newTestRegistries(sessions *mockSessions) (*Registries, *router.Router, *boundary.Boundary) {
	rt := router.New(nil)
	bd := boundary.New()
	return New(rt, bd, sessions), rt, bd
}

func TestDiscoverNormalizesAllKinds(t *testing.T) {
	client := &mockClient{
		tools: []mcp.Tool{
			{Name: "lookup", Description: "looks things up", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		},
		prompts:   []mcp.Prompt{{Name: "summarize", Description: "summary prompt"}},
		resources: []mcp.Resource{{URI: "file:///data/report.csv", Name: "report"}},
	}
	reg, _, _ := newTestRegistries(&mockSessions{})

	advertised, err := reg.Discover(context.Background(), "s1", client, nil)
	require.NoError(t, err)
	require.Len(t, advertised, 3)

	kinds := map[router.Kind]string{}
	for _, cap := range advertised {
		kinds[cap.Kind] = cap.Name
	}
	assert.Equal(t, "lookup", kinds[router.KindAction])
	assert.Equal(t, "summarize", kinds[router.KindPrompt])
	assert.Equal(t, "file:///data/report.csv", kinds[router.KindResource])
}

func TestDiscoverHonorsDeclaredKinds(t *testing.T) {
	client := &mockClient{
		tools:   []mcp.Tool{{Name: "lookup"}},
		prompts: []mcp.Prompt{{Name: "summarize"}},
	}
	reg, _, _ := newTestRegistries(&mockSessions{})

	advertised, err := reg.Discover(context.Background(), "s1", client, []router.Kind{router.KindPrompt})
	require.NoError(t, err)
	require.Len(t, advertised, 1)
	assert.Equal(t, router.KindPrompt, advertised[0].Kind)
}

func TestDiscoverToolListingIsMandatory(t *testing.T) {
	client := &mockClient{listToolsErr: fmt.Errorf("broken pipe")}
	reg, _, _ := newTestRegistries(&mockSessions{})

	_, err := reg.Discover(context.Background(), "s1", client, []router.Kind{router.KindAction})
	require.Error(t, err)
}

func TestAdmitExclusionIsAbsolute(t *testing.T) {
	reg, rt, _ := newTestRegistries(&mockSessions{})

	advertised := []Capability{
		{Name: "lookup", Kind: router.KindAction},
		{Name: "delete_everything", Kind: router.KindAction},
	}

	admitted := reg.Admit("s1", advertised, []string{"delete_everything"}, nil, 1.0)
	assert.Equal(t, 1, admitted)

	// The excluded capability never appears, even though discover returned it.
	for _, rec := range rt.List(router.KindAction, "") {
		assert.NotEqual(t, "delete_everything", rec.Name)
	}
	_, err := rt.Select("delete_everything", router.KindAction, nil)
	var noProvider *router.NoProviderError
	require.ErrorAs(t, err, &noProvider)
}

func TestInvokeRoutesAndNormalizes(t *testing.T) {
	client := &mockClient{}
	sessions := &mockSessions{clients: map[string]transport.Client{"s1": client}, timeouts: map[string]time.Duration{}}
	reg, _, _ := newTestRegistries(sessions)
	reg.Admit("s1", []Capability{{Name: "lookup", Kind: router.KindAction}}, nil, nil, 1.0)

	result, err := reg.Invoke(context.Background(), "lookup", map[string]interface{}{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, "result of lookup", result.Content)
	assert.False(t, result.IsError)
}

func TestInvokeNoProvider(t *testing.T) {
	reg, _, _ := newTestRegistries(&mockSessions{})

	_, err := reg.Invoke(context.Background(), "missing", nil)
	var noProvider *router.NoProviderError
	require.ErrorAs(t, err, &noProvider)
}

func TestInvokeWrapsTransportFailure(t *testing.T) {
	client := &mockClient{callErr: fmt.Errorf("connection reset")}
	sessions := &mockSessions{clients: map[string]transport.Client{"s1": client}, timeouts: map[string]time.Duration{}}
	reg, _, _ := newTestRegistries(sessions)
	reg.Admit("s1", []Capability{{Name: "lookup", Kind: router.KindAction}}, nil, nil, 1.0)

	_, err := reg.Invoke(context.Background(), "lookup", nil)
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "lookup", invErr.Capability)
	assert.Equal(t, "s1", invErr.SessionID)
}

func TestInvokeHonorsSessionTimeout(t *testing.T) {
	client := &mockClient{callDelay: 200 * time.Millisecond}
	sessions := &mockSessions{
		clients:  map[string]transport.Client{"s1": client},
		timeouts: map[string]time.Duration{"s1": 10 * time.Millisecond},
	}
	reg, _, _ := newTestRegistries(sessions)
	reg.Admit("s1", []Capability{{Name: "slow", Kind: router.KindAction}}, nil, nil, 1.0)

	_, err := reg.Invoke(context.Background(), "slow", nil)
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr, "a timed-out call surfaces as InvocationError, not a session teardown")
}

func TestRenderPrompt(t *testing.T) {
	client := &mockClient{}
	sessions := &mockSessions{clients: map[string]transport.Client{"s1": client}, timeouts: map[string]time.Duration{}}
	reg, _, _ := newTestRegistries(sessions)
	reg.Admit("s1", []Capability{{Name: "summarize", Kind: router.KindPrompt}}, nil, nil, 1.0)

	result, err := reg.Render(context.Background(), "summarize", map[string]interface{}{"topic": "go"})
	require.NoError(t, err)
	assert.Equal(t, "rendered summarize", result.Content)
}

func TestFetchChecksBoundary(t *testing.T) {
	client := &mockClient{}
	sessions := &mockSessions{clients: map[string]transport.Client{"s1": client}, timeouts: map[string]time.Duration{}}
	reg, _, bd := newTestRegistries(sessions)
	require.NoError(t, bd.SetRoots("s1", []string{"file:///data"}))

	reg.Admit("s1", []Capability{
		{Name: "file:///data/report.csv", Kind: router.KindResource},
		{Name: "file:///etc/passwd", Kind: router.KindResource},
	}, nil, nil, 1.0)

	result, err := reg.Fetch(context.Background(), "file:///data/report.csv")
	require.NoError(t, err)
	assert.Equal(t, "resource body", result.Content)

	_, err = reg.Fetch(context.Background(), "file:///etc/passwd")
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	var notAuth *boundary.NotAuthorizedError
	assert.ErrorAs(t, err, &notAuth)
}

func TestUnregisterSessionRemovesCapabilities(t *testing.T) {
	client := &mockClient{}
	sessions := &mockSessions{clients: map[string]transport.Client{"s1": client}, timeouts: map[string]time.Duration{}}
	reg, _, _ := newTestRegistries(sessions)
	reg.Admit("s1", []Capability{{Name: "lookup", Kind: router.KindAction}}, nil, nil, 1.0)

	reg.UnregisterSession("s1")

	_, err := reg.Invoke(context.Background(), "lookup", nil)
	var noProvider *router.NoProviderError
	require.ErrorAs(t, err, &noProvider)
}

func TestListForLLMPresentation(t *testing.T) {
	reg, _, _ := newTestRegistries(&mockSessions{})
	reg.Admit("s1", []Capability{
		{Name: "lookup", Kind: router.KindAction, Description: "looks things up"},
		{Name: "summarize", Kind: router.KindPrompt},
	}, nil, nil, 1.0)

	actions := reg.List(router.KindAction, "")
	require.Len(t, actions, 1)
	assert.Equal(t, "looks things up", actions[0].Description)

	assert.Len(t, reg.List(router.KindPrompt, ""), 1)
	assert.Empty(t, reg.List(router.KindResource, ""))
}
