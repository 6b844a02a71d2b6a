package chat

import (
	"context"
	"errors"

	"github.com/fulcrum-ai/gateway/internal/capability"
	"github.com/fulcrum-ai/gateway/internal/sandbox"
)

// SandboxBackend serves chat turns through the sandboxed curated-prompt
// endpoint, resolving a credential per turn via the broker.
type SandboxBackend struct {
	broker *sandbox.Broker
	client *capability.Client
}

var _ Backend = (*SandboxBackend)(nil)

func NewSandboxBackend(broker *sandbox.Broker, client *capability.Client) (*SandboxBackend, error) {
	if broker == nil || client == nil {
		return nil, errors.New("broker and client are required")
	}
	return &SandboxBackend{broker: broker, client: client}, nil
}

func (b *SandboxBackend) Chat(ctx context.Context, message, callerToken string) (string, error) {
	cred, err := b.broker.Resolve(ctx, callerToken)
	if err != nil {
		return "", err
	}
	return b.client.Prompt(ctx, cred, message)
}

// ListDocuments returns an empty list: the sandbox backend has no
// document index of its own.
func (b *SandboxBackend) ListDocuments(ctx context.Context) ([]string, error) {
	return []string{}, nil
}
