// Package gemini implements the text model gateway over the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kkk0312/mdia/internal/llm"
	"google.golang.org/genai"
)

const (
	provider         = "gemini"
	defaultAPIKeyEnv = "GEMINI_API_KEY"
	defaultTimeout   = 120 * time.Second
)

// Config is Gemini client configuration.
type Config struct {
	Model     string
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	Timeout   time.Duration
}

// Client sends multimodal prompts through genai.
type Client struct {
	model   string
	timeout time.Duration
	client  *genai.Client
}

var _ llm.Gateway = (*Client)(nil)

// NewClient constructs a Gemini client. A missing key is a *llm.CredentialError.
func NewClient(ctx context.Context, cfg Config, httpClient *http.Client) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("gemini model is required")
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

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{model: model, timeout: timeout, client: client}, nil
}

// Complete sends parts as one user turn and returns the response text.
func (c *Client) Complete(ctx context.Context, parts []llm.Part) (string, error) {
	genParts := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		part, err := toPart(p)
		if err != nil {
			return "", err
		}
		genParts = append(genParts, part)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{
		genai.NewContentFromParts(genParts, genai.RoleUser),
	}, nil)
	if err != nil {
		return "", &llm.ModelError{Provider: provider, Err: fmt.Errorf("generate content: %w", err)}
	}

	output := strings.TrimSpace(resp.Text())
	if output == "" {
		return "", &llm.ModelError{Provider: provider, Err: fmt.Errorf("response did not contain output text")}
	}
	return output, nil
}

func toPart(p llm.Part) (*genai.Part, error) {
	switch p.Kind {
	case llm.PartText:
		return genai.NewPartFromText(p.Value), nil
	case llm.PartImageURL:
		if strings.HasPrefix(p.Value, "data:") {
			mime, data, err := llm.DecodeDataURL(p.Value)
			if err != nil {
				return nil, err
			}
			return genai.NewPartFromBytes(data, mime), nil
		}
		return genai.NewPartFromURI(p.Value, "image/png"), nil
	default:
		return nil, fmt.Errorf("unsupported part kind %q", p.Kind)
	}
}
