package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madeddie/mebooks/fetch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, fetch.DefaultPublicProxyURL, cfg.Proxy.PublicURL)
	assert.False(t, cfg.Proxy.AllowPublic)
	assert.Equal(t, fetch.DefaultVendorHosts, cfg.Proxy.VendorHosts)
	assert.Equal(t, fetch.DefaultMaxRedirects, cfg.Fetch.MaxRedirects)
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())

	timeout, err := cfg.Fetch.ParsedTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  auth:
    username: admin
    password: hunter2
proxy:
  own_url: https://proxy.example/fetch
  vendor_hosts: [vendor.example]
fetch:
  timeout: 5s
log:
  level: debug
  format: json
catalogs:
  - name: Project Gutenberg
    url: https://m.gutenberg.org/ebooks.opds/
  - name: City Library
    url: https://lib.example/opds
    version: "2"
    auth: {username: reader, password: secret}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	require.NotNil(t, cfg.Server.Auth)
	assert.Equal(t, "admin", cfg.Server.Auth.Username)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	require.Len(t, cfg.Catalogs, 2)
	assert.Equal(t, "project-gutenberg", cfg.Catalogs[0].Slug())

	p := cfg.ProxySettings()
	assert.Equal(t, "https://proxy.example/fetch", p.OwnProxyURL)
	assert.Equal(t, []string{"vendor.example"}, p.VendorHosts)
	assert.Equal(t, 5*time.Second, cfg.ClientSettings().Timeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OWN_PROXY_URL", "https://own.example/p")
	t.Setenv("ALLOW_PUBLIC_PROXY", "true")
	t.Setenv("FORCE_PROXY", "1")
	t.Setenv("SKIP_CORS_CHECK", "false")
	t.Setenv("APP_ORIGIN", "https://app.example")
	t.Setenv("MEBOOKS_ADDR", "127.0.0.1:7000")

	cfg, err := Load(writeConfig(t, "server:\n  addr: \":9000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	p := cfg.ProxySettings()
	assert.Equal(t, "https://own.example/p", p.OwnProxyURL)
	assert.True(t, p.AllowPublicProxy)
	assert.True(t, p.ForceProxy)
	assert.False(t, p.SkipCORSCheck)
	assert.Equal(t, "https://app.example", p.Origin)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PUBLIC_PROXY_URL=https://cors.example/?u=\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("PUBLIC_PROXY_URL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://cors.example/?u=", cfg.Proxy.PublicURL)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "server: [", "parse"},
		{"bad timeout", "fetch:\n  timeout: soon\n", "invalid fetch timeout"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"force without proxy", "proxy:\n  force: true\n", "proxy.force"},
		{"catalog without url", "catalogs:\n  - name: A\n", "url is required"},
		{"negative depth", "catalogs:\n  - {name: A, url: a, depth: -1}\n", "depth must not be negative"},
		{"duplicate slug", "catalogs:\n  - {name: My Lib, url: a}\n  - {name: my-lib, url: b}\n", "duplicate slug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Setenv("FORCE_PROXY", "maybe")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FORCE_PROXY")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFindConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", "")
	assert.Empty(t, FindConfig())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("{}"), 0o600))
	assert.Equal(t, "config.yml", FindConfig())
}
