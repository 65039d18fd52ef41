package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/ircrelay/internal/config"
)

// ChatClient talks to an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	apiKey           string
	baseURL          string
	model            string
	context          string
	temperature      float64
	maxTokens        int
	topP             float64
	frequencyPenalty float64
	presencePenalty  float64
	httpClient       *http.Client
	now              func() time.Time
}

func NewChatClient(cfg *config.Config, systemContext string) *ChatClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	return &ChatClient{
		apiKey:           cfg.Provider.APIKey,
		baseURL:          baseURL,
		model:            cfg.Agent.Model,
		context:          systemContext,
		temperature:      cfg.Agent.Temperature,
		maxTokens:        cfg.Agent.MaxTokens,
		topP:             cfg.Agent.TopP,
		frequencyPenalty: cfg.Agent.FrequencyPenalty,
		presencePenalty:  cfg.Agent.PresencePenalty,
		httpClient:       &http.Client{Timeout: cfg.Agent.Timeout()},
		now:              time.Now,
	}
}

func (c *ChatClient) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("missing api key")
	}

	body := map[string]any{
		"model":             c.model,
		"messages":          BuildMessages(c.context, req, c.now()),
		"temperature":       c.temperature,
		"max_tokens":        c.maxTokens,
		"top_p":             c.topP,
		"frequency_penalty": c.frequencyPenalty,
		"presence_penalty":  c.presencePenalty,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat completions http %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 200))
	}
	return parseCompletion(respBody)
}

func parseCompletion(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", ErrMalformedResponse
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return "", ErrMissingContent
	}
	text := strings.TrimSpace(content.String())
	if text == "" {
		return "", ErrMissingContent
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
