package llm

import (
	"context"
	"errors"
	"net"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"auto_article_curator/retry"
)

// OpenAI implements Client using the official openai-go SDK (chat completions).
// It also serves OpenAI-compatible endpoints such as DeepSeek via BaseURL.
type OpenAI struct {
	Model  string
	client openai.Client
}

func NewOpenAIFromSettings(cfg *Settings) (*OpenAI, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	// retries are driven by retry.Policy, not by the SDK
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAI{Model: cfg.Model, client: openai.NewClient(opts...)}, nil
}

func (o *OpenAI) Name() string { return o.Model }

func (o *OpenAI) Complete(ctx context.Context, prompt Prompt) (Response, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if prompt.System != "" {
		msgs = append(msgs, openai.SystemMessage(prompt.System))
	}
	for _, h := range prompt.History {
		switch h.Role {
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(h.Content))
		default:
			msgs = append(msgs, openai.UserMessage(h.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.Model),
		Messages: msgs,
	}
	if prompt.Temperature > 0 {
		params.Temperature = openai.Float(prompt.Temperature)
	}
	if prompt.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(prompt.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("openai: empty choices")
	}
	return Response{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			Calls:            1,
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// classifyOpenAI marks rate limits, timeouts and server errors as transient.
// Authentication and malformed requests stay permanent.
func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if retry.IsTransientStatus(apiErr.StatusCode) {
			return retry.Transient(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Transient(err)
	}
	return err
}
