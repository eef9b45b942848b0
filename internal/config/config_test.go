package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultClientConfig()

	assert.Equal(t, "http://127.0.0.1:8080", config.API.BaseURL)
	assert.Equal(t, 30*time.Second, config.API.Timeout)
	assert.Equal(t, "ws://127.0.0.1:8080/push", config.Push.URL)
	assert.Equal(t, 10, config.Push.MaxReconnectTries)
	assert.Equal(t, 13, config.Map.DefaultZoom)
	assert.Equal(t, 10, config.Contacts.MaxRecent)
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	m := NewManager()
	config, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultClientConfig(), config)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	content := `
api:
  base_url: "https://api.example.com"
  timeout: 10s
push:
  url: "wss://api.example.com/push"
  max_reconnect_tries: 3
map:
  default_zoom: 15
contacts:
  max_recent: 20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m := NewManager(WithConfigPath(path))
	config, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", config.API.BaseURL)
	assert.Equal(t, 10*time.Second, config.API.Timeout)
	assert.Equal(t, "wss://api.example.com/push", config.Push.URL)
	assert.Equal(t, 3, config.Push.MaxReconnectTries)
	assert.Equal(t, 15, config.Map.DefaultZoom)
	assert.Equal(t, 20, config.Contacts.MaxRecent)

	// 未出现的字段保持默认值
	assert.Equal(t, 30*time.Second, config.Push.PingInterval)
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: \"http://localhost:9999\"\n"), 0o644))

	m := NewManager(WithConfigPath(path))
	config, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999", config.API.BaseURL)
	assert.Equal(t, 13, config.Map.DefaultZoom)
}

func TestLoadMissingFileFails(t *testing.T) {
	m := NewManager(WithConfigPath("/nonexistent/client.yaml"))
	_, err := m.Load()
	require.Error(t, err)
}

func TestGetBeforeLoadReturnsDefaults(t *testing.T) {
	m := NewManager()
	assert.Equal(t, DefaultClientConfig(), m.Get())
}

func TestLoadIsIdempotent(t *testing.T) {
	m := NewManager()
	first, err := m.Load()
	require.NoError(t, err)
	second, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, first, second)
}
