// ABOUTME: Tests for CLI helpers: config paths, argument parsing, logging levels
// ABOUTME: Generated configs are round-tripped through config.Load

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("COVEN_CHAT_CONFIG", "/etc/coven-chat.yaml")
	assert.Equal(t, "/etc/coven-chat.yaml", getConfigPath())

	t.Setenv("COVEN_CHAT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "coven-chat", "config.yaml"), getConfigPath())
}

func TestParseSendArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		thread  string
		message string
		wantErr bool
	}{
		{"plain", []string{"hello", "there"}, "", "hello there", false},
		{"thread flag", []string{"--thread", "t1", "hi"}, "t1", "hi", false},
		{"thread equals", []string{"--thread=t2", "hi"}, "t2", "hi", false},
		{"short flag", []string{"-t", "t3", "hi"}, "t3", "hi", false},
		{"missing value", []string{"--thread"}, "", "", true},
		{"unknown flag", []string{"--nope", "hi"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thread, message, err := parseSendArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.thread, thread)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestReplaceLevelNames(t *testing.T) {
	a := replaceLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	assert.Equal(t, "TRACE", a.Value.String())

	a = replaceLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, a.Value.Any())
}

func TestRenderConfig_Loads(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	dir := t.TempDir()

	out := renderConfig(initAnswers{
		HTTPAddr:  "localhost:8080",
		GRPCAddr:  "localhost:50051",
		DBDriver:  "sqlite",
		DBPath:    filepath.Join(dir, "chat.db"),
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		APIKeyEnv: "OPENAI_API_KEY",
		LogLevel:  "debug",
		LogFormat: "json",
	})

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Agent.Model)
	assert.Equal(t, 0.7, *cfg.Heading.Temperature)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestDescribeDatabase(t *testing.T) {
	assert.Equal(t, "chat.db (sqlite)", describeDatabase(config.DatabaseConfig{Driver: "sqlite", Path: "chat.db"}))
	got := describeDatabase(config.DatabaseConfig{Driver: "mysql", User: "u", Password: "secret", Host: "db", Port: 3306, Name: "chat"})
	assert.Equal(t, "mysql://u@db:3306/chat", got)
	assert.NotContains(t, got, "secret")
}
