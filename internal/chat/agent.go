package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fulcrum-ai/gateway/internal/docs"
	"github.com/fulcrum-ai/gateway/internal/llm"
)

// DocSession is the slice of the document MCP client the agent uses.
type DocSession interface {
	ListDocumentIDs(ctx context.Context) ([]string, error)
	ReadDocument(ctx context.Context, id string) (string, error)
	ListTools(ctx context.Context) ([]llm.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error)
	Close() error
}

// Completer is the completion-backend call the agent loop needs.
type Completer interface {
	CreateMessage(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error)
}

// AgentConfig configures the MCP + completion backend.
type AgentConfig struct {
	// Dial opens a document server session for one turn.
	Dial func(ctx context.Context) (DocSession, error)
	// Completer performs model calls.
	Completer Completer
	// MaxToolRounds bounds the tool loop. Defaults to 8.
	MaxToolRounds int
	// LogHandler is an optional slog.Handler. If nil, logging is discarded.
	LogHandler slog.Handler
}

// AgentBackend answers chat turns by letting the completion model call
// document-server tools until it produces a final text response. Each
// turn spawns its own document server session; nothing is shared
// between turns.
type AgentBackend struct {
	cfg AgentConfig
	log *slog.Logger
}

var _ Backend = (*AgentBackend)(nil)

func NewAgentBackend(cfg AgentConfig) (*AgentBackend, error) {
	if cfg.Dial == nil {
		return nil, errors.New("document server dialer is required")
	}
	if cfg.Completer == nil {
		return nil, errors.New("completer is required")
	}
	if cfg.MaxToolRounds == 0 {
		cfg.MaxToolRounds = 8
	}
	logHandler := cfg.LogHandler
	if logHandler == nil {
		logHandler = slog.DiscardHandler
	}
	return &AgentBackend{cfg: cfg, log: slog.New(logHandler)}, nil
}

// StdioDialer returns a Dial function that spawns the document server
// subprocess per turn.
func StdioDialer(cfg docs.Config) func(ctx context.Context) (DocSession, error) {
	return func(ctx context.Context) (DocSession, error) {
		return docs.Connect(ctx, cfg)
	}
}

const turnPrompt = `The user has a question:
<query>
%s
</query>

The following context may be useful in answering their question:
<context>
%s
</context>

The user's query may mention documents like "@report.docx"; the "@" is
only a mention marker, the document's actual name is "report.docx". If a
document's content already appears above, answer from it without calling
a tool to read it again. Answer directly and concisely, starting with
the exact information the user needs, and don't refer to the provided
context itself.`

func (b *AgentBackend) Chat(ctx context.Context, message, callerToken string) (string, error) {
	sess, err := b.cfg.Dial(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	defer sess.Close()

	docContext, err := b.mentionedDocuments(ctx, sess, message)
	if err != nil {
		// Mentions are best-effort context; the model can still read
		// documents through tools.
		b.log.WarnContext(ctx, "resolving document mentions failed", slog.String("err", err.Error()))
	}

	tools, err := sess.ListTools(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}

	messages := []llm.Message{llm.UserText(fmt.Sprintf(turnPrompt, message, docContext))}

	for round := 0; round < b.cfg.MaxToolRounds; round++ {
		resp, err := b.cfg.Completer.CreateMessage(ctx, messages, tools)
		if err != nil {
			return "", err
		}
		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})

		if resp.StopReason != "tool_use" {
			return resp.Text(), nil
		}

		results, err := b.executeToolUses(ctx, sess, resp.Content)
		if err != nil {
			return "", err
		}
		messages = append(messages, llm.Message{Role: "user", Content: results})
	}
	return "", fmt.Errorf("%w: tool loop did not converge", llm.ErrUnavailable)
}

func (b *AgentBackend) ListDocuments(ctx context.Context) ([]string, error) {
	sess, err := b.cfg.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	defer sess.Close()
	ids, err := sess.ListDocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	return ids, nil
}

// mentionedDocuments inlines the contents of documents the user
// @-mentioned, wrapped in <document> tags.
func (b *AgentBackend) mentionedDocuments(ctx context.Context, sess DocSession, message string) (string, error) {
	mentions := map[string]bool{}
	for _, word := range strings.Fields(message) {
		if name, ok := strings.CutPrefix(word, "@"); ok && name != "" {
			mentions[name] = true
		}
	}
	if len(mentions) == 0 {
		return "", nil
	}

	ids, err := sess.ListDocumentIDs(ctx)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, id := range ids {
		if !mentions[id] {
			continue
		}
		content, err := sess.ReadDocument(ctx, id)
		if err != nil {
			return sb.String(), err
		}
		fmt.Fprintf(&sb, "\n<document id=%q>\n%s\n</document>\n", id, content)
	}
	return sb.String(), nil
}

func (b *AgentBackend) executeToolUses(ctx context.Context, sess DocSession, blocks []llm.ContentBlock) ([]llm.ContentBlock, error) {
	var results []llm.ContentBlock
	for _, block := range blocks {
		if block.Type != "tool_use" {
			continue
		}
		var args map[string]any
		if len(block.Input) > 0 {
			if err := json.Unmarshal(block.Input, &args); err != nil {
				return nil, fmt.Errorf("decoding input for tool %s: %w", block.Name, err)
			}
		}
		b.log.DebugContext(ctx, "executing tool", slog.String("tool", block.Name))
		out, isErr, err := sess.CallTool(ctx, block.Name, args)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
		}
		results = append(results, llm.ContentBlock{
			Type:      "tool_result",
			ToolUseID: block.ID,
			Content:   out,
			IsError:   isErr,
		})
	}
	if len(results) == 0 {
		return nil, errors.New("tool_use stop without tool_use blocks")
	}
	return results, nil
}
