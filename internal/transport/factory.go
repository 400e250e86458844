package transport

import (
	"fmt"
)

// Type identifies how a capability server is reached.
type Type string

const (
	// TypeStdio launches a local subprocess speaking MCP over stdin/stdout.
	TypeStdio Type = "stdio"
	// TypeSSE connects to a remote server over Server-Sent Events.
	TypeSSE Type = "sse"
	// TypeStreamableHTTP connects to a remote server over streamable HTTP.
	TypeStreamableHTTP Type = "streamable-http"
)

// Descriptor describes how to reach one capability server. Exactly one of the
// command or URL groups is used, depending on Type.
type Descriptor struct {
	Type Type

	// Command, Args and Env configure stdio transports. Env values may carry
	// resolved secrets and are never logged.
	Command string
	Args    []string
	Env     map[string]string

	// URL and Headers configure remote transports.
	URL     string
	Headers map[string]string
}

// Factory produces a connected duplex channel for a transport descriptor.
// The default implementation is New; tests substitute their own.
type Factory func(desc Descriptor) (Client, error)

// New creates the appropriate client for a descriptor. The returned client is
// not yet connected; the caller drives Initialize as part of the session
// startup sequence.
//
// Returns an error if the descriptor's type is unknown or its required fields
// are missing.
func New(desc Descriptor) (Client, error) {
	switch desc.Type {
	case TypeStdio:
		if desc.Command == "" {
			return nil, fmt.Errorf("command is required for stdio transport")
		}
		return NewStdioClient(desc.Command, desc.Args, desc.Env), nil

	case TypeSSE:
		if desc.URL == "" {
			return nil, fmt.Errorf("url is required for sse transport")
		}
		return NewSSEClient(desc.URL, desc.Headers), nil

	case TypeStreamableHTTP:
		if desc.URL == "" {
			return nil, fmt.Errorf("url is required for streamable-http transport")
		}
		return NewStreamableHTTPClient(desc.URL, desc.Headers), nil

	default:
		return nil, fmt.Errorf("unsupported transport type: %s (supported: %s, %s, %s)",
			desc.Type, TypeStdio, TypeSSE, TypeStreamableHTTP)
	}
}
