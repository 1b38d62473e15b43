// Package llm abstracts the text-generation capability used by every stage.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyOutput is returned when the model answered with blank text.
	ErrEmptyOutput = errors.New("llm: model returned empty output")
	// ErrInvalidRequest is returned when a request fails validation before dispatch.
	ErrInvalidRequest = errors.New("llm: invalid request")
)

// Client abstracts a language model so providers and mocks are interchangeable.
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (Response, error)
	// Name identifies the model for usage accounting.
	Name() string
}

// Settings is the base configuration handed to an implementation.
type Settings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// Prompt is the set of messages sent to the model.
type Prompt struct {
	// Op names the prompt template; it keys usage accounting and call history.
	Op          string
	System      string
	User        string
	History     []Message
	MaxTokens   int
	Temperature float64
}

// Message is one optional history entry.
type Message struct {
	Role    string
	Content string
}

// Usage counts tokens spent by one or more calls.
type Usage struct {
	Calls            int `json:"calls"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.Calls += o.Calls
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
}

// Response is the model output together with what it cost.
type Response struct {
	Text  string
	Usage Usage
}

// Request is a typed prompt template. Each call site owns one implementation
// and validates its inputs before anything is sent.
type Request interface {
	Validate() error
	Prompt() Prompt
}

// Generate validates req, sends it through c and returns the trimmed text.
func Generate(ctx context.Context, c Client, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	p := req.Prompt()
	resp, err := c.Complete(ctx, p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.Op, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", p.Op, ErrEmptyOutput)
	}
	return text, nil
}

// approxTokens estimates token usage for clients that do not report it.
func approxTokens(s string) int {
	return (len(s) + 3) / 4
}
