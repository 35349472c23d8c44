package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "marketscope.yaml"), []byte(yaml), 0o644)
	require.NoError(t, err)
	return dir
}

func TestInitializeMergesUserValuesOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
providers:
  llm:
    - name: gemini-main
      kind: gemini
      api_key: test-key
      model: gemini-2.0-flash
engine:
  component_deadline: 5m
queue:
  worker_count: 7
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Engine.ComponentDeadline)
	// Untouched fields keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Engine.LLMCallTimeout)
	assert.Equal(t, 7, cfg.Queue.WorkerCount)
	assert.Equal(t, 3, cfg.Queue.MaxConcurrentSessions)
	assert.Equal(t, 30, cfg.Retention.SessionRetentionDays)

	require.Len(t, cfg.Providers.LLM, 1)
	assert.True(t, cfg.ClassConfigured(ClassLLM))
	assert.False(t, cfg.ClassConfigured(ClassSearch))
}

func TestInitializeExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "secret-from-env")
	dir := writeConfig(t, `
providers:
  llm:
    - name: gemini-main
      kind: gemini
      api_key: "{{.TEST_GEMINI_KEY}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Providers.LLM[0].APIKey)
}

func TestCredentialDefaultsFollowListOrder(t *testing.T) {
	dir := writeConfig(t, `
providers:
  search:
    - name: serper-main
      kind: serper
      api_key: k1
    - name: cse-backup
      kind: google_cse
      api_key: k2
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Providers.Search[0].Priority)
	assert.Equal(t, 2, cfg.Providers.Search[1].Priority)
	assert.Equal(t, time.Second, cfg.Providers.Search[0].MinInterval)
}

func TestInitializeRejectsUnknownKind(t *testing.T) {
	dir := writeConfig(t, `
providers:
  llm:
    - name: mystery
      kind: quantum
      api_key: k
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestInitializeRejectsMissingAPIKey(t *testing.T) {
	dir := writeConfig(t, `
providers:
  llm:
    - name: gemini-main
      kind: gemini
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")
}

func TestInitializeMissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "providers: [not: valid: yaml")

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestCallTimeoutPerClass(t *testing.T) {
	cfg := &Config{Engine: DefaultEngineConfig()}

	assert.Equal(t, 60*time.Second, cfg.CallTimeout(ClassLLM))
	assert.Equal(t, 30*time.Second, cfg.CallTimeout(ClassSearch))
	assert.Equal(t, 30*time.Second, cfg.CallTimeout(ClassSocial))
	assert.Equal(t, 15*time.Second, cfg.CallTimeout(ClassExtractor))
}
