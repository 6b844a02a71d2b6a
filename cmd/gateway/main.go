// Command gateway is the token-scoped proxy gateway: it validates
// Auth0-issued JWTs, brokers sandbox credentials, and routes chat turns
// to either the Ally sandbox backend or the local agent backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/fulcrum-ai/gateway/internal/capability"
	"github.com/fulcrum-ai/gateway/internal/chat"
	"github.com/fulcrum-ai/gateway/internal/docs"
	"github.com/fulcrum-ai/gateway/internal/httpapi"
	"github.com/fulcrum-ai/gateway/internal/jwtauth"
	"github.com/fulcrum-ai/gateway/internal/llm"
	"github.com/fulcrum-ai/gateway/internal/logctx"
	"github.com/fulcrum-ai/gateway/internal/sandbox"
)

type config struct {
	Port        int    `env:"PORT,default=8788"`
	FrontendURL string `env:"FRONTEND_URL,default=http://localhost:5173"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	// Identity. AUTH0_ISSUER_BASE_URL wins; AUTH0_DOMAIN is accepted as
	// the bare tenant domain for compatibility with older deployments.
	Auth0IssuerBaseURL string `env:"AUTH0_ISSUER_BASE_URL"`
	Auth0Domain        string `env:"AUTH0_DOMAIN"`
	Auth0Audience      string `env:"AUTH0_AUDIENCE"`

	// Ally sandbox backend.
	UseAllySandbox       bool   `env:"USE_ALLY_SANDBOX,default=false"`
	SandboxClientKey     string `env:"SANDBOX_CLIENT_KEY"`
	SandboxClientSecret  string `env:"SANDBOX_CLIENT_SECRET"`
	AllyTokenEndpoint    string `env:"ALLY_TOKEN_ENDPOINT"`
	AllySandboxPromptURL string `env:"ALLY_SANDBOX_PROMPT_URL"`
	AllySandboxModelID   string `env:"ALLY_SANDBOX_MODEL_ID"`
	SandboxCache         string `env:"SANDBOX_CACHE,default=memory"`

	// Agent backend.
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	ClaudeModel      string `env:"CLAUDE_MODEL"`
	MCPServerCommand string `env:"MCP_SERVER_COMMAND,default=docserver"`
	MCPServerArgs    string `env:"MCP_SERVER_ARGS"`
}

func (c *config) issuer() string {
	if c.Auth0IssuerBaseURL != "" {
		return c.Auth0IssuerBaseURL
	}
	if c.Auth0Domain != "" {
		return "https://" + c.Auth0Domain + "/"
	}
	return ""
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

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logHandler := slog.Handler(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	})
	log := slog.New(logHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator, authConfigured, err := buildValidator(ctx, &cfg)
	if err != nil {
		return err
	}
	if !authConfigured {
		log.Warn("Auth0 not configured; JWT-gated routes will return 503")
	}

	broker, backend, err := buildBackend(&cfg, logHandler, log)
	if err != nil {
		return err
	}

	handler, err := httpapi.New(httpapi.Config{
		FrontendOrigin: cfg.FrontendURL,
		Validator:      validator,
		Backend:        backend,
		Broker:         broker,
		RequireUserJWT: !cfg.UseAllySandbox && authConfigured,
		LogHandler:     logHandler,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildValidator returns the JWT validator plus whether identity
// settings were actually present. Missing settings are not fatal;
// gated routes degrade to 503.
func buildValidator(ctx context.Context, cfg *config) (jwtauth.Validator, bool, error) {
	issuer := cfg.issuer()
	if issuer == "" || cfg.Auth0Audience == "" {
		return jwtauth.NewUnconfigured(), false, nil
	}

	jcfg := jwtauth.DefaultConfig()
	jcfg.Issuer = issuer
	jcfg.Audience = cfg.Auth0Audience
	v, err := jwtauth.NewFromDiscovery(ctx, jcfg)
	if err != nil {
		return nil, false, fmt.Errorf("configuring jwt validation: %w", err)
	}
	return v, true, nil
}

// buildBackend assembles the chat backend selected by USE_ALLY_SANDBOX.
// The broker is non-nil only in sandbox mode; it also powers
// GET /api/sandbox-token.
func buildBackend(cfg *config, logHandler slog.Handler, log *slog.Logger) (*sandbox.Broker, chat.Backend, error) {
	if cfg.UseAllySandbox {
		cache, err := buildCredentialCache(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		broker, err := sandbox.NewBroker(sandbox.BrokerConfig{
			TokenEndpoint: cfg.AllyTokenEndpoint,
			ClientKey:     cfg.SandboxClientKey,
			ClientSecret:  cfg.SandboxClientSecret,
			LogHandler:    logHandler,
		}, cache)
		if err != nil {
			return nil, nil, fmt.Errorf("configuring sandbox broker: %w", err)
		}
		client, err := capability.NewClient(capability.Config{
			PromptURL:  cfg.AllySandboxPromptURL,
			ModelID:    cfg.AllySandboxModelID,
			LogHandler: logHandler,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configuring sandbox client: %w", err)
		}
		backend, err := chat.NewSandboxBackend(broker, client)
		if err != nil {
			return nil, nil, err
		}
		return broker, backend, nil
	}

	completer, err := llm.NewClient(llm.Config{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.ClaudeModel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configuring completion client: %w", err)
	}
	backend, err := chat.NewAgentBackend(chat.AgentConfig{
		Dial: chat.StdioDialer(docs.Config{
			Command: cfg.MCPServerCommand,
			Args:    strings.Fields(cfg.MCPServerArgs),
		}),
		Completer:  completer,
		LogHandler: logHandler,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, backend, nil
}

func buildCredentialCache(cfg *config, log *slog.Logger) (sandbox.CredentialCache, error) {
	switch cfg.SandboxCache {
	case "", "memory":
		return sandbox.NewMemoryCache(), nil
	case "redis":
		cache, err := sandbox.NewRedisCacheFromEnv()
		if err != nil {
			return nil, fmt.Errorf("configuring redis credential cache: %w", err)
		}
		log.Info("sandbox credentials cached in redis")
		return cache, nil
	default:
		return nil, fmt.Errorf("unknown SANDBOX_CACHE value %q (want memory or redis)", cfg.SandboxCache)
	}
}
