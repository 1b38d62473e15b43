package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"auto_article_curator/retry"
)

// Gemini implements Client on top of the Google GenAI SDK.
type Gemini struct {
	Model  string
	client *genai.Client
}

func NewGeminiFromSettings(ctx context.Context, cfg *Settings) (*Gemini, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{Model: cfg.Model, client: client}, nil
}

func (g *Gemini) Name() string { return g.Model }

func (g *Gemini) Complete(ctx context.Context, prompt Prompt) (Response, error) {
	cfg := &genai.GenerateContentConfig{}
	if prompt.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}
	if prompt.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(prompt.Temperature))
	}
	if prompt.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(prompt.MaxTokens)
	}

	var contents []*genai.Content
	for _, h := range prompt.History {
		role := genai.Role(genai.RoleUser)
		if h.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(h.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt.User, genai.RoleUser))

	resp, err := g.client.Models.GenerateContent(ctx, g.Model, contents, cfg)
	if err != nil {
		return Response{}, classifyGenAI(err)
	}
	out := Response{Text: resp.Text(), Usage: Usage{Calls: 1}}
	if md := resp.UsageMetadata; md != nil {
		out.Usage.PromptTokens = int(md.PromptTokenCount)
		out.Usage.CompletionTokens = int(md.CandidatesTokenCount)
	}
	return out, nil
}

func classifyGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && retry.IsTransientStatus(apiErr.Code) {
		return retry.Transient(err)
	}
	return err
}
