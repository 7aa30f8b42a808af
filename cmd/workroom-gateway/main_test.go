// ABOUTME: Tests for CLI flag parsing and logger setup
// ABOUTME: Exercises parseFlags edge cases and the color handler output

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/workroom-gateway/internal/auth"
	"github.com/2389/workroom-gateway/internal/config"
	"github.com/2389/workroom-gateway/internal/store"
)

func TestParseFlags(t *testing.T) {
	defs := map[string]bool{"name": true, "service": false}
	aliases := map[string]string{"n": "name"}

	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr string
	}{
		{name: "separate value", args: []string{"--name", "Ada"}, want: map[string]string{"name": "Ada"}},
		{name: "equals value", args: []string{"--name=Ada Lovelace"}, want: map[string]string{"name": "Ada Lovelace"}},
		{name: "short alias", args: []string{"-n", "Ada", "--service"}, want: map[string]string{"name": "Ada", "service": ""}},
		{name: "empty", args: nil, want: map[string]string{}},
		{name: "missing value", args: []string{"--name"}, wantErr: "--name requires a value"},
		{name: "unknown flag", args: []string{"--color"}, wantErr: "unknown flag: --color"},
		{name: "positional", args: []string{"Ada"}, wantErr: "unexpected argument: Ada"},
		{name: "bool with value", args: []string{"--service=yes"}, wantErr: "--service does not take a value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, defs, aliases)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.With("component", "presence").Warn("kept", "conn_id", "c1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "presence", rec["component"])
	assert.Equal(t, "c1", rec["conn_id"])
}

func TestSetupLogger_Color(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "gateway").WithGroup("req").Debug("routed", "path", "/ws")
	logger.Error("boom")

	out := buf.String()
	assert.Contains(t, out, "DBG routed component=gateway req.path=/ws")
	assert.Contains(t, out, "ERR boom")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestMintToken(t *testing.T) {
	secret := "cli-test-secret-0123456789abcdef"
	token, expiresAt, err := mintToken(secret, "principal-1", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	sub, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "principal-1", sub)

	_, _, err = mintToken("short", "principal-1", time.Hour)
	assert.ErrorContains(t, err, "creating JWT verifier")
}

func TestPrintToken(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	p := &store.Principal{ID: "p-1", DisplayName: "Billing", Kind: store.PrincipalService, Status: store.PrincipalActive}
	printToken(&buf, p, "tok.en.value", time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC))

	out := buf.String()
	assert.Contains(t, out, "ID:           p-1")
	assert.Contains(t, out, "Kind:         service")
	assert.Contains(t, out, "Jan 02, 2026 03:04 UTC")
	assert.True(t, strings.HasSuffix(out, "tok.en.value\n"))
}
