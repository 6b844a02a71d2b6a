package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTokenEndpoint(t *testing.T, mints *atomic.Int64, expiresIn int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n := mints.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('a'+n-1)),
			"expires_in":   expiresIn,
		})
	}))
}

func newBroker(t *testing.T, endpoint string) *Broker {
	t.Helper()
	b, err := NewBroker(BrokerConfig{
		TokenEndpoint: endpoint,
		ClientKey:     "key",
		ClientSecret:  "secret",
	}, nil)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	return b
}

func TestResolve_ForwardsCallerToken(t *testing.T) {
	// No server at all: a forwarded token must not cause network activity.
	b := newBroker(t, "http://127.0.0.1:0")

	cred, err := b.Resolve(context.Background(), "caller-token")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cred.Forwarded || cred.AccessToken != "caller-token" {
		t.Fatalf("want forwarded caller token, got %+v", cred)
	}
}

func TestResolve_MintsOnceWithinValidity(t *testing.T) {
	var mints atomic.Int64
	srv := newTokenEndpoint(t, &mints, 3600)
	defer srv.Close()

	b := newBroker(t, srv.URL)

	first, err := b.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := b.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.AccessToken != second.AccessToken {
		t.Fatalf("cache miss on second resolve: %q vs %q", first.AccessToken, second.AccessToken)
	}
	if got := mints.Load(); got != 1 {
		t.Fatalf("want exactly one mint, got %d", got)
	}
}

func TestResolve_RemintsPastExpiryMargin(t *testing.T) {
	var mints atomic.Int64
	srv := newTokenEndpoint(t, &mints, 3600)
	defer srv.Close()

	b := newBroker(t, srv.URL)

	first, err := b.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Advance the clock to 29 seconds before expiry: inside the 30s
	// margin, so the cached credential must be treated as stale.
	b.now = func() time.Time { return first.ExpiresAt.Add(-29 * time.Second) }

	second, err := b.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if second.AccessToken == first.AccessToken {
		t.Fatalf("stale credential served past expiry margin")
	}
	if got := mints.Load(); got != 2 {
		t.Fatalf("want two mints, got %d", got)
	}
}

func TestResolve_ConcurrentMissesCollapse(t *testing.T) {
	var mints atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mints.Add(1)
		<-release // hold every mint until all resolvers are in flight
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "shared", "expires_in": 3600})
	}))
	defer srv.Close()

	b, err := NewBroker(BrokerConfig{TokenEndpoint: srv.URL, ClientKey: "key", ClientSecret: "secret"}, nil)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			cred, err := b.Resolve(context.Background(), "")
			if err != nil {
				errs[i] = err
				return
			}
			tokens[i] = cred.AccessToken
		}(i)
	}

	// Give the resolvers time to pile up behind the single flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolver %d: %v", i, errs[i])
		}
		if tokens[i] != "shared" {
			t.Fatalf("resolver %d got %q", i, tokens[i])
		}
	}
	if got := mints.Load(); got != 1 {
		t.Fatalf("want exactly one issuance call, got %d", got)
	}
}

func TestResolve_IssuanceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := newBroker(t, srv.URL)

	_, err := b.Resolve(context.Background(), "")
	if !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("want ErrCredentialUnavailable, got %v", err)
	}
}

func TestResolve_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"expires_in": 3600})
	}))
	defer srv.Close()

	b := newBroker(t, srv.URL)

	_, err := b.Resolve(context.Background(), "")
	if !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("want ErrCredentialUnavailable, got %v", err)
	}
}
