package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrCredentialUnavailable indicates the broker could not obtain an
// app-level credential from the issuance endpoint. Safe to retry later.
var ErrCredentialUnavailable = errors.New("sandbox: credential unavailable")

// BrokerConfig configures credential issuance.
type BrokerConfig struct {
	// TokenEndpoint is the backend's OAuth2 client_credentials endpoint.
	TokenEndpoint string
	// ClientKey and ClientSecret authenticate the mint request (HTTP basic auth).
	ClientKey    string
	ClientSecret string
	// Timeout bounds each mint request. Defaults to 30s.
	Timeout time.Duration
	// ExpiryMargin treats cached credentials as expired this early.
	// Defaults to 30s.
	ExpiryMargin time.Duration
	// LogHandler is an optional slog.Handler. If nil, logging is discarded.
	LogHandler slog.Handler
}

// Broker resolves sandbox credentials: forwarded pass-through when the
// caller supplies a token, otherwise a cached or freshly minted
// app-level credential.
type Broker struct {
	cfg    BrokerConfig
	cache  CredentialCache
	client *http.Client
	group  singleflight.Group
	log    *slog.Logger
	now    func() time.Time
}

// NewBroker validates cfg and returns a Broker using the given cache.
// A nil cache gets an in-process MemoryCache.
func NewBroker(cfg BrokerConfig, cache CredentialCache) (*Broker, error) {
	if cfg.TokenEndpoint == "" {
		return nil, errors.New("token endpoint is required")
	}
	if cfg.ClientKey == "" || cfg.ClientSecret == "" {
		return nil, errors.New("client key and secret are required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ExpiryMargin == 0 {
		cfg.ExpiryMargin = 30 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	logHandler := cfg.LogHandler
	if logHandler == nil {
		logHandler = slog.DiscardHandler
	}
	return &Broker{
		cfg:    cfg,
		cache:  cache,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    slog.New(logHandler),
		now:    time.Now,
	}, nil
}

// Resolve returns the credential to use for a downstream call. A
// non-empty callerToken is wrapped and forwarded without any network
// activity. Otherwise the cached minted credential is returned when
// still fresh; concurrent cache misses collapse into a single mint
// whose result (or error) is shared by all waiters.
func (b *Broker) Resolve(ctx context.Context, callerToken string) (*Credential, error) {
	if callerToken != "" {
		return &Credential{AccessToken: callerToken, Forwarded: true}, nil
	}

	if cred, err := b.cache.Get(ctx); err == nil && cred.Fresh(b.now(), b.cfg.ExpiryMargin) {
		return cred, nil
	} else if err != nil {
		b.log.WarnContext(ctx, "credential cache read failed", slog.String("err", err.Error()))
	}

	v, err, _ := b.group.Do("mint", func() (any, error) {
		// Re-check under the flight: a waiter may arrive after the winner
		// already stored a fresh credential.
		if cred, err := b.cache.Get(ctx); err == nil && cred.Fresh(b.now(), b.cfg.ExpiryMargin) {
			return cred, nil
		}

		// Detach from the initiating request so its cancellation can't
		// poison the shared result.
		mintCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.Timeout)
		defer cancel()

		cred, err := b.mint(mintCtx)
		if err != nil {
			return nil, err
		}
		if err := b.cache.Put(ctx, cred); err != nil {
			b.log.WarnContext(ctx, "credential cache write failed", slog.String("err", err.Error()))
		}
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

func (b *Broker) mint(ctx context.Context) (*Credential, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(b.cfg.ClientKey, b.cfg.ClientSecret)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request failed: %v", ErrCredentialUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading token response: %v", ErrCredentialUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		b.log.WarnContext(ctx, "token endpoint returned non-200", slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: token endpoint status %d", ErrCredentialUnavailable, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: token response is not JSON: %v", ErrCredentialUnavailable, err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", ErrCredentialUnavailable)
	}
	// Issuers typically report expires_in seconds; default one hour.
	if out.ExpiresIn <= 0 {
		out.ExpiresIn = 3600
	}

	cred := &Credential{
		AccessToken: out.AccessToken,
		ExpiresAt:   b.now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}
	b.log.InfoContext(ctx, "minted sandbox credential", slog.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}
