package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/polisai/polis-triage/internal/governance"
	"github.com/polisai/polis-triage/pkg/domain"
)

// ProviderConfig selects and configures a langchaingo backend.
type ProviderConfig struct {
	// Provider is "openai" or "openrouter"; empty means openai.
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewProvider builds the langchaingo model named by cfg.
func NewProvider(cfg ProviderConfig) (llms.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai", "openrouter":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: model provider %q is not supported", domain.ErrConfigInvalid, cfg.Provider)
	}
}

// LangChainModel adapts a langchaingo model to Model.
type LangChainModel struct {
	llm  llms.Model
	opts []llms.CallOption
}

// NewLangChainModel wraps llm. opts apply to every call.
func NewLangChainModel(llm llms.Model, opts ...llms.CallOption) *LangChainModel {
	return &LangChainModel{llm: llm, opts: opts}
}

// JSONModel wraps llm with JSON output mode enabled, for structured answers.
func JSONModel(llm llms.Model, opts ...llms.CallOption) *LangChainModel {
	return NewLangChainModel(llm, append([]llms.CallOption{llms.WithJSONMode()}, opts...)...)
}

// Generate sends the system and user messages and returns the first choice.
func (m *LangChainModel) Generate(ctx context.Context, prompt Prompt) (string, error) {
	var messages []llms.MessageContent
	if prompt.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(prompt.System)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt.User)},
	})

	resp, err := m.llm.GenerateContent(ctx, messages, m.opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// GovernedModel routes every Generate call through a call policy.
type GovernedModel struct {
	model  Model
	policy *governance.CallPolicy
	target string
}

// Governed wraps model so its calls carry the policy's timeout, retries, and
// circuit breaker under target.
func Governed(model Model, policy *governance.CallPolicy, target string) *GovernedModel {
	return &GovernedModel{model: model, policy: policy, target: target}
}

// Generate implements Model.
func (g *GovernedModel) Generate(ctx context.Context, prompt Prompt) (string, error) {
	out, _, err := g.policy.Call(ctx, g.target, func(ctx context.Context) (string, error) {
		return g.model.Generate(ctx, prompt)
	})
	return out, err
}
