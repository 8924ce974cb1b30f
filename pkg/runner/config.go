package runner

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zhufucdev/ledoxide/pkg/models"
)

// DefaultBaseURL targets a local llama.cpp style server.
const DefaultBaseURL = "http://127.0.0.1:8080/v1"

// Config maps resource names to the endpoints serving them.
type Config struct {
	Models map[string]ModelConfig `yaml:"models"`
}

// ModelConfig describes one OpenAI compatible endpoint.
type ModelConfig struct {
	// BaseURL is the endpoint root, e.g. http://127.0.0.1:8080/v1.
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	// Empty sends no credentials.
	APIKeyEnv string `yaml:"api_key_env"`
	// Model is the served model identifier.
	Model string `yaml:"model"`
	// Temperature and MaxTokens are sampling defaults, overridable per
	// request.
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int64   `yaml:"max_tokens"`
}

// DefaultConfig serves both pipeline stages from one local endpoint.
func DefaultConfig() *Config {
	return &Config{
		Models: map[string]ModelConfig{
			VisionModel:   {BaseURL: DefaultBaseURL},
			LanguageModel: {BaseURL: DefaultBaseURL},
		},
	}
}

// ParseConfig parses a YAML model configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("runner: yaml parse: %w", err)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("runner: config declares no models")
	}
	for name, mc := range cfg.Models {
		if mc.BaseURL == "" {
			return nil, fmt.Errorf("runner: model %s has no base_url", name)
		}
	}
	return &cfg, nil
}

// LoadConfig reads and parses a YAML model configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runner: read config: %w", err)
	}
	return ParseConfig(data)
}

// Builders derives the builder map for a models.Manager. Each builder
// constructs the endpoint handle and warms it up, so a build only
// succeeds once the endpoint answers.
func Builders(cfg *Config) map[string]models.Builder {
	out := make(map[string]models.Builder, len(cfg.Models))
	for name, mc := range cfg.Models {
		out[name] = func(ctx context.Context) (models.Model, error) {
			model := NewOpenAIModel(mc.BaseURL, os.Getenv(mc.APIKeyEnv), mc.Model)
			model.SetSamplingDefaults(models.Sampling{
				Temperature: mc.Temperature,
				MaxTokens:   mc.MaxTokens,
			})
			if err := model.Warmup(ctx); err != nil {
				return nil, err
			}
			return model, nil
		}
	}
	return out
}
