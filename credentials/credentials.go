// Package credentials stores per-host catalog logins.
package credentials

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"sync"
)

// Credential is a catalog login.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// IsZero reports whether c carries no username.
func (c Credential) IsZero() bool {
	return c.Username == ""
}

// BasicAuth returns the value of an HTTP Basic Authorization header.
func (c Credential) BasicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password))
}

// Store is where the catalog core looks up and records logins. Writes are
// fire-and-forget from the caller's point of view but may still fail.
type Store interface {
	FindCredentialForURL(ctx context.Context, rawURL string) (Credential, bool, error)
	SaveOPDSCredential(ctx context.Context, host, username, password string) error
	DeleteOPDSCredential(ctx context.Context, host string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	hosts map[string]Credential
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hosts: make(map[string]Credential)}
}

// FindCredentialForURL returns the login saved for the URL's host, or for
// the nearest parent domain.
func (s *MemoryStore) FindCredentialForURL(_ context.Context, rawURL string) (Credential, bool, error) {
	host := hostOf(rawURL)
	if host == "" {
		return Credential{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for h := host; h != ""; h = parentDomain(h) {
		if c, ok := s.hosts[h]; ok {
			return c, true, nil
		}
	}
	return Credential{}, false, nil
}

// SaveOPDSCredential records a login for host.
func (s *MemoryStore) SaveOPDSCredential(_ context.Context, host, username, password string) error {
	host = normalizeHost(host)
	if host == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[host] = Credential{Username: username, Password: password}
	return nil
}

// DeleteOPDSCredential forgets the login for host.
func (s *MemoryStore) DeleteOPDSCredential(_ context.Context, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, normalizeHost(host))
	return nil
}

// Hosts returns the hosts with a saved login.
func (s *MemoryStore) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		out = append(out, h)
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// normalizeHost accepts a bare host, host:port or a full URL.
func normalizeHost(h string) string {
	h = strings.TrimSpace(h)
	if strings.Contains(h, "://") {
		return hostOf(h)
	}
	if u, err := url.Parse("//" + h); err == nil {
		return strings.ToLower(u.Hostname())
	}
	return strings.ToLower(h)
}

// parentDomain drops the leftmost label, stopping before a bare TLD.
func parentDomain(h string) string {
	i := strings.IndexByte(h, '.')
	if i < 0 {
		return ""
	}
	parent := h[i+1:]
	if !strings.Contains(parent, ".") {
		return ""
	}
	return parent
}
