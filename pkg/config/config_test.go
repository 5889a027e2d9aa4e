package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "text-embedding-3-small", cfg.LLM.EmbeddingModel)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, "/blog/article/", cfg.RAG.CitationBasePath)
	assert.Equal(t, 30, cfg.Forwarding.TimeoutSec)
	assert.Equal(t, DefaultRates(), cfg.Usage.Rates)
}

func TestLoadAPIKeyFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MEDCONTENT_LLM_APIKEY", "")

	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.LLM.APIKey)

	t.Setenv("MEDCONTENT_LLM_APIKEY", "sk-primary")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-primary", cfg.LLM.APIKey)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: gpt-4o
rag:
  topK: 5
usage:
  rates:
    gpt-4o:
      input: 0.05
      output: 0.2
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, Rate{Input: 0.05, Output: 0.2}, cfg.Usage.Rates["gpt-4o"])
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
