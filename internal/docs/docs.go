// Package docs is an MCP client for the document server, spoken over
// stdio to a child process. It exposes the small surface the agent
// backend needs: document listing, document reads, and tool calls.
package docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fulcrum-ai/gateway/internal/llm"
)

// DocumentListURI is the resource that yields the JSON array of
// document IDs.
const DocumentListURI = "docs://documents"

// Config locates the document server process.
type Config struct {
	// Command is the executable to spawn, e.g. "docserver".
	Command string
	// Args are passed to the command.
	Args []string
}

// Client wraps one MCP client session.
type Client struct {
	session *mcp.ClientSession
}

// Connect spawns the document server and performs the MCP handshake.
// Close the returned client to reap the child process.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Command == "" {
		return nil, errors.New("document server command is required")
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "fulcrum-gateway",
		Version: "1.0.0",
	}, nil)
	transport := &mcp.CommandTransport{Command: exec.CommandContext(ctx, cfg.Command, cfg.Args...)}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to document server: %w", err)
	}
	return &Client{session: session}, nil
}

func (c *Client) Close() error { return c.session.Close() }

// ListDocumentIDs reads the document list resource.
func (c *Client) ListDocumentIDs(ctx context.Context) ([]string, error) {
	res, err := c.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: DocumentListURI})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", DocumentListURI, err)
	}
	if len(res.Contents) == 0 {
		return nil, fmt.Errorf("resource %s returned no contents", DocumentListURI)
	}
	var ids []string
	if err := json.Unmarshal([]byte(res.Contents[0].Text), &ids); err != nil {
		return nil, fmt.Errorf("decoding document list: %w", err)
	}
	return ids, nil
}

// ReadDocument returns the content of one document.
func (c *Client) ReadDocument(ctx context.Context, id string) (string, error) {
	text, isErr, err := c.CallTool(ctx, "read_doc_contents", map[string]any{"doc_id": id})
	if err != nil {
		return "", err
	}
	if isErr {
		return "", fmt.Errorf("read_doc_contents(%s): %s", id, text)
	}
	return text, nil
}

// ListTools returns the server's tools converted to completion-backend
// tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]llm.Tool, error) {
	res, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	tools := make([]llm.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshalling schema for %s: %w", t.Name, err)
		}
		tools = append(tools, llm.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool invokes a tool and flattens its content to text. The second
// return reports whether the tool itself flagged an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", false, fmt.Errorf("calling tool %s: %w", name, err)
	}
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), res.IsError, nil
}
