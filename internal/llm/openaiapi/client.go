// Package openaiapi implements the text model gateway over OpenAI-compatible
// chat completions, including Volcengine Ark endpoints.
package openaiapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kkk0312/mdia/internal/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	provider         = "openai"
	defaultBaseURL   = "https://ark.cn-beijing.volces.com/api/v3"
	defaultAPIKeyEnv = "ARK_API_KEY"
	defaultTimeout   = 120 * time.Second
)

// Config is OpenAI-compatible client configuration.
type Config struct {
	Model     string
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	Timeout   time.Duration
}

// Client wraps the chat completions API for single multimodal prompts.
type Client struct {
	cfg    Config
	client openai.Client
}

var _ llm.Gateway = (*Client)(nil)

// NewClient constructs a new client. A missing key is a *llm.CredentialError.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	envKey := strings.TrimSpace(cfg.APIKeyEnv)
	if envKey == "" {
		envKey = defaultAPIKeyEnv
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(envKey))
	}
	if apiKey == "" {
		return nil, &llm.CredentialError{Provider: provider, EnvVar: envKey}
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(timeout),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &Client{
		cfg: Config{
			Model:   model,
			BaseURL: baseURL,
			Timeout: timeout,
		},
		client: openai.NewClient(opts...),
	}, nil
}

// Complete sends parts as a single user message.
func (c *Client) Complete(ctx context.Context, parts []llm.Part) (string, error) {
	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case llm.PartText:
			content = append(content, openai.TextContentPart(p.Value))
		case llm.PartImageURL:
			content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: p.Value,
			}))
		default:
			return "", fmt.Errorf("unsupported part kind %q", p.Kind)
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(content),
		},
	})
	if err != nil {
		return "", &llm.ModelError{Provider: provider, Err: fmt.Errorf("chat.completions.create: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &llm.ModelError{Provider: provider, Err: fmt.Errorf("response contained no choices")}
	}

	output := strings.TrimSpace(resp.Choices[0].Message.Content)
	if output == "" {
		return "", &llm.ModelError{Provider: provider, Err: fmt.Errorf("response did not contain output text")}
	}
	return output, nil
}
