// Package chat defines the gateway's chat backend contract and its two
// implementations: the sandboxed curated-prompt backend and the
// MCP-plus-completion agent backend. Which one serves requests is
// decided once at startup from deployment configuration.
package chat

import "context"

// Backend serves a single stateless chat turn and document listing.
// callerToken is the raw bearer supplied by the caller, if any; the
// sandbox backend forwards it downstream, the agent backend ignores it.
type Backend interface {
	Chat(ctx context.Context, message, callerToken string) (string, error)
	ListDocuments(ctx context.Context) ([]string, error)
}
