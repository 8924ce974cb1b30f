package runner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/zhufucdev/ledoxide/pkg/models"
)

// DefaultRequestTimeout bounds a single completion call. Local servers
// load weights lazily, so the first call after an idle period can run
// for minutes.
const DefaultRequestTimeout = 5 * time.Minute

// OpenAIModel is a models.Model backed by an OpenAI compatible chat
// completion endpoint, such as a local llama.cpp or vLLM server.
type OpenAIModel struct {
	client   openai.Client
	model    string
	defaults models.Sampling
	timeout  time.Duration
	retry    RetryConfig
}

// NewOpenAIModel creates a model handle against the given endpoint.
// An empty baseURL targets the official OpenAI API, an empty apiKey
// sends no credentials (common for local servers).
func NewOpenAIModel(baseURL, apiKey, model string) *OpenAIModel {
	var opts []option.RequestOption
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &OpenAIModel{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: DefaultRequestTimeout,
		retry:   DefaultRetryConfig(),
	}
}

// SetTimeout sets the per-call timeout.
func (m *OpenAIModel) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// SetRetry sets the retry policy for transient endpoint failures.
func (m *OpenAIModel) SetRetry(config RetryConfig) {
	m.retry = config
}

// SetSamplingDefaults sets sampling parameters applied when a request
// does not override them.
func (m *OpenAIModel) SetSamplingDefaults(sampling models.Sampling) {
	m.defaults = sampling
}

// ModelName returns the served model identifier.
func (m *OpenAIModel) ModelName() string {
	return m.model
}

// Complete sends the request as a chat completion and returns the full
// reply text.
func (m *OpenAIModel) Complete(ctx context.Context, req models.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.model),
		Messages: chatMessages(req.Messages),
	}
	applySampling(&params, m.defaults, req.Sampling)

	var content string
	err := retryWithBackoff(ctx, m.retry, func() error {
		completion, err := m.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return errors.New("no completion choices returned")
		}
		content = completion.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("runner: completion with %s: %w", m.model, err)
	}
	return content, nil
}

// Warmup issues a minimal completion so the serving side loads the
// model before real traffic arrives. Builders call this to surface
// unreachable endpoints at build time.
func (m *OpenAIModel) Warmup(ctx context.Context) error {
	one := int64(1)
	_, err := m.Complete(ctx, models.Request{
		Messages: []models.Message{{Role: models.RoleUser, Text: "ping"}},
		Sampling: models.Sampling{MaxTokens: &one},
	})
	return err
}

func applySampling(params *openai.ChatCompletionNewParams, defaults, override models.Sampling) {
	temperature := defaults.Temperature
	if override.Temperature != nil {
		temperature = override.Temperature
	}
	if temperature != nil {
		params.Temperature = openai.Float(*temperature)
	}

	topP := defaults.TopP
	if override.TopP != nil {
		topP = override.TopP
	}
	if topP != nil {
		params.TopP = openai.Float(*topP)
	}

	maxTokens := defaults.MaxTokens
	if override.MaxTokens != nil {
		maxTokens = override.MaxTokens
	}
	if maxTokens != nil {
		params.MaxTokens = openai.Int(*maxTokens)
	}
}

func chatMessages(msgs []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch {
		case msg.Role == models.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text))
		case len(msg.Image) > 0:
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, 2)
			if msg.Text != "" {
				parts = append(parts, openai.TextContentPart(msg.Text))
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: imageDataURL(msg.Image),
			}))
			out = append(out, openai.UserMessage(parts))
		default:
			out = append(out, openai.UserMessage(msg.Text))
		}
	}
	return out
}

func imageDataURL(data []byte) string {
	mime := http.DetectContentType(data)
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}
