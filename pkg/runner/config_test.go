package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `models:
  vision:
    base_url: http://127.0.0.1:8080/v1
    model: gemma-3-4b-it
    temperature: 0.2
  language:
    base_url: https://api.example.com/v1
    api_key_env: EXAMPLE_API_KEY
    model: qwen3-8b
    max_tokens: 512
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Models, 2)

	vision := cfg.Models[VisionModel]
	assert.Equal(t, "http://127.0.0.1:8080/v1", vision.BaseURL)
	assert.Equal(t, "gemma-3-4b-it", vision.Model)
	require.NotNil(t, vision.Temperature)
	assert.Equal(t, 0.2, *vision.Temperature)
	assert.Nil(t, vision.MaxTokens)

	language := cfg.Models[LanguageModel]
	assert.Equal(t, "EXAMPLE_API_KEY", language.APIKeyEnv)
	require.NotNil(t, language.MaxTokens)
	assert.Equal(t, int64(512), *language.MaxTokens)
	assert.Nil(t, language.Temperature)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("models: {}"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("models:\n  vision:\n    model: m\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")

	_, err = ParseConfig([]byte("models: [unclosed"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Models, 2)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Contains(t, cfg.Models, VisionModel)
	require.Contains(t, cfg.Models, LanguageModel)
	assert.Equal(t, DefaultBaseURL, cfg.Models[VisionModel].BaseURL)
}

func TestBuilders(t *testing.T) {
	builders := Builders(DefaultConfig())
	assert.Len(t, builders, 2)
	assert.Contains(t, builders, VisionModel)
	assert.Contains(t, builders, LanguageModel)
}
