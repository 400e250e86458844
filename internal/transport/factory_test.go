package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryDispatch(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr string
	}{
		{
			name: "stdio",
			desc: Descriptor{Type: TypeStdio, Command: "mcp-server", Args: []string{"--flag"}},
		},
		{
			name:    "stdio without command",
			desc:    Descriptor{Type: TypeStdio},
			wantErr: "command is required",
		},
		{
			name: "sse",
			desc: Descriptor{Type: TypeSSE, URL: "https://example.com/sse"},
		},
		{
			name:    "sse without url",
			desc:    Descriptor{Type: TypeSSE},
			wantErr: "url is required",
		},
		{
			name: "streamable-http",
			desc: Descriptor{Type: TypeStreamableHTTP, URL: "https://example.com/mcp"},
		},
		{
			name:    "streamable-http without url",
			desc:    Descriptor{Type: TypeStreamableHTTP},
			wantErr: "url is required",
		},
		{
			name:    "unknown type",
			desc:    Descriptor{Type: "grpc"},
			wantErr: "unsupported transport type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.desc)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
			assert.Empty(t, c.ProtocolVersion(), "version is negotiated only at Initialize")
		})
	}
}

func TestFactoryClientTypes(t *testing.T) {
	c, err := New(Descriptor{Type: TypeStdio, Command: "srv"})
	require.NoError(t, err)
	_, ok := c.(*StdioClient)
	assert.True(t, ok)

	c, err = New(Descriptor{Type: TypeSSE, URL: "https://x"})
	require.NoError(t, err)
	_, ok = c.(*SSEClient)
	assert.True(t, ok)

	c, err = New(Descriptor{Type: TypeStreamableHTTP, URL: "https://x"})
	require.NoError(t, err)
	_, ok = c.(*StreamableHTTPClient)
	assert.True(t, ok)
}
