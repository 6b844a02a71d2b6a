// Package sandbox brokers the bearer credential used to call the
// sandboxed capability backend. A caller-supplied token is forwarded
// unchanged; otherwise the broker mints an app-level credential via the
// backend's OAuth2 client_credentials endpoint and caches it until
// shortly before expiry.
package sandbox

import "time"

// Credential is an opaque bearer token for the capability backend plus
// its expiry. Forwarded credentials carry no expiry; their lifetime is
// owned by the caller.
type Credential struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Forwarded   bool      `json:"-"`
}

// Fresh reports whether the credential is usable at now, treating it as
// expired margin early so in-flight downstream calls don't straddle the
// real expiry.
func (c *Credential) Fresh(now time.Time, margin time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.Forwarded {
		return true
	}
	return now.Before(c.ExpiresAt.Add(-margin))
}

// TTL returns the remaining lifetime at now, never negative.
func (c *Credential) TTL(now time.Time) time.Duration {
	if c == nil || !c.ExpiresAt.After(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
