package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/ircrelay/internal/config"
)

// SDKGenerator answers through an agentsdk-go model provider.
type SDKGenerator struct {
	provider    model.Provider
	modelName   string
	context     string
	maxTokens   int
	temperature float64
	now         func() time.Time
}

// NewSDKGenerator builds the OpenAI or Anthropic provider named by
// cfg.Provider.Type.
func NewSDKGenerator(cfg *config.Config, systemContext string) (*SDKGenerator, error) {
	var provider model.Provider
	switch strings.ToLower(cfg.Provider.Type) {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
			CacheTTL:  time.Hour,
		}
	case "anthropic":
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
			CacheTTL:  time.Hour,
		}
	default:
		return nil, fmt.Errorf("provider type %q has no sdk backend", cfg.Provider.Type)
	}
	return newSDKGenerator(provider, cfg, systemContext), nil
}

func newSDKGenerator(provider model.Provider, cfg *config.Config, systemContext string) *SDKGenerator {
	return &SDKGenerator{
		provider:    provider,
		modelName:   cfg.Agent.Model,
		context:     systemContext,
		maxTokens:   cfg.Agent.MaxTokens,
		temperature: cfg.Agent.Temperature,
		now:         time.Now,
	}
}

func (g *SDKGenerator) Generate(ctx context.Context, req Request) (string, error) {
	mdl, err := g.provider.Model(ctx)
	if err != nil {
		return "", fmt.Errorf("create model: %w", err)
	}

	msgs := BuildMessages(g.context, req, g.now())
	system := msgs[0].Content
	conv := make([]model.Message, 0, len(msgs)-1)
	for _, m := range msgs[1:] {
		conv = append(conv, model.Message{Role: m.Role, Content: m.Content})
	}

	temp := g.temperature
	resp, err := mdl.Complete(ctx, model.Request{
		Messages:    conv,
		System:      system,
		Model:       g.modelName,
		MaxTokens:   g.maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if resp == nil {
		return "", ErrMissingContent
	}
	text := strings.TrimSpace(resp.Message.TextContent())
	if text == "" {
		return "", ErrMissingContent
	}
	return text, nil
}
