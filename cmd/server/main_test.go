package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-flight/internal/config"
)

func TestHostForListenAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		listenAddr string
		want       string
	}{
		{name: "port only", listenAddr: ":8000", want: "localhost:8000"},
		{name: "ipv4 host and port", listenAddr: "127.0.0.1:8000", want: "127.0.0.1:8000"},
		{name: "wildcard ipv4", listenAddr: "0.0.0.0:8000", want: "localhost:8000"},
		{name: "wildcard ipv6", listenAddr: "[::]:8000", want: "localhost:8000"},
		{name: "ipv6 loopback", listenAddr: "[::1]:8000", want: "[::1]:8000"},
		{name: "trim host and port", listenAddr: " localhost:9090 ", want: "localhost:9090"},
		{name: "trim port only", listenAddr: "  :7070  ", want: "localhost:7070"},
		{name: "empty falls back", listenAddr: "", want: "localhost:8000"},
		{name: "whitespace falls back", listenAddr: "   ", want: "localhost:8000"},
		{name: "malformed passes through", listenAddr: "localhost", want: "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, hostForListenAddr(tt.listenAddr))
		})
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, ".env", opts.envFile)
	assert.Empty(t, opts.configFile)
	assert.False(t, opts.dev)

	opts, err = parseFlags([]string{"--dev", "-c", "flight.yaml", "--env-file", "prod.env"})
	require.NoError(t, err)
	assert.True(t, opts.dev)
	assert.Equal(t, "flight.yaml", opts.configFile)
	assert.Equal(t, "prod.env", opts.envFile)

	_, err = parseFlags([]string{"--bogus"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger := newLogger(cfg, &buf)
	logger.Info("dropped")
	logger.Warn("kept", "component", "test")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "test", line["component"])

	cfg.LogFormat = "text"
	buf.Reset()
	newLogger(cfg, &buf).Warn("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
