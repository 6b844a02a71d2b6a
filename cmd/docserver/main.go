// Command docserver is the document MCP server the gateway's agent
// backend talks to over stdio. It exposes the document corpus as a
// resource plus read and edit tools.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joeshaw/envdecode"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fulcrum-ai/gateway/internal/docstore"
)

const documentListURI = "docs://documents"

type config struct {
	// DocsDir, when set, backs the store with files from this directory
	// and reloads them as they change. Empty means the built-in corpus.
	DocsDir  string `env:"DOCS_DIR"`
	LogLevel string `env:"LOG_LEVEL,default=warn"`
}

type readDocArgs struct {
	DocID string `json:"doc_id" jsonschema:"Id of the document to read"`
}

type editDocArgs struct {
	DocID  string `json:"doc_id" jsonschema:"Id of the document that will be edited"`
	OldStr string `json:"old_str" jsonschema:"The text to replace. Must match exactly, including whitespace"`
	NewStr string `json:"new_str" jsonschema:"The new text to insert in place of the old text"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	// Stdout carries the MCP transport; logs go to stderr.
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log := slog.New(logHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *docstore.Store
	if cfg.DocsDir != "" {
		var err error
		store, err = docstore.NewFromDir(cfg.DocsDir, logHandler)
		if err != nil {
			return err
		}
		go func() {
			if err := store.Watch(ctx, cfg.DocsDir); err != nil && ctx.Err() == nil {
				log.Warn("document watch stopped", slog.String("err", err.Error()))
			}
		}()
	} else {
		store = docstore.NewSeeded(logHandler)
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "fulcrum-docserver", Version: "0.1.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_doc_contents",
		Description: "Read the contents of a document and return it as a string.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args readDocArgs) (*mcp.CallToolResult, any, error) {
		content, err := store.Read(args.DocID)
		if err != nil {
			return toolError(err), nil, nil
		}
		return textResult(content), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "edit_document",
		Description: "Edit a document by replacing a string in the documents content with a new string.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args editDocArgs) (*mcp.CallToolResult, any, error) {
		if err := store.Edit(args.DocID, args.OldStr, args.NewStr); err != nil {
			return toolError(err), nil, nil
		}
		return textResult("Updated " + args.DocID + "."), nil, nil
	})

	server.AddResource(&mcp.Resource{
		URI:      documentListURI,
		Name:     "documents",
		MIMEType: "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		ids, err := json.Marshal(store.List())
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
			URI:      documentListURI,
			MIMEType: "application/json",
			Text:     string(ids),
		}}}, nil
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: documentListURI + "/{doc_id}",
		Name:        "document",
		MIMEType:    "text/plain",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		docID := strings.TrimPrefix(req.Params.URI, documentListURI+"/")
		content, err := store.Read(docID)
		if err != nil {
			return nil, fmt.Errorf("resource not found: %s", req.Params.URI)
		}
		return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     content,
		}}}, nil
	})

	server.AddPrompt(&mcp.Prompt{
		Name:        "format",
		Description: "Rewrites the contents of the document in Markdown format.",
		Arguments: []*mcp.PromptArgument{{
			Name:        "doc_id",
			Description: "Id of the document to format",
			Required:    true,
		}},
	}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		docID := req.Params.Arguments["doc_id"]
		prompt := fmt.Sprintf(`Your goal is to reformat a document to be written with markdown syntax.

The id of the document you need to reformat is:
<document_id>
%s
</document_id>

Add in headers, bullet points, tables, etc as necessary. Feel free to add in extra text, but don't change the meaning of the report.
Use the 'edit_document' tool to edit the document. After the document has been edited, respond with the final version of the doc. Don't explain your changes.`, docID)
		return &mcp.GetPromptResult{Messages: []*mcp.PromptMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: prompt},
		}}}, nil
	})

	log.Info("document server listening on stdio", slog.Int("documents", len(store.List())))
	return server.Run(ctx, &mcp.StdioTransport{})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
