package llm

import (
	"context"
	"fmt"
	"strings"
)

// Mock is a placeholder for local runs; it never calls a model.
// Its output is shaped so every stage can parse it: headings, list items and
// a cited sentence.
type Mock struct{}

func (Mock) Name() string { return "mock" }

func (Mock) Complete(_ context.Context, prompt Prompt) (Response, error) {
	subject := firstLine(prompt.User)
	var sb strings.Builder
	sb.WriteString("# Overview\n")
	sb.WriteString("## Background\n")
	sb.WriteString("# Details\n\n")
	sb.WriteString(fmt.Sprintf("- %s\n\n", subject))
	sb.WriteString(fmt.Sprintf("This is a mock response about %s.[1]\n", subject))
	text := sb.String()
	return Response{
		Text:  text,
		Usage: Usage{Calls: 1, PromptTokens: approxTokens(prompt.System + prompt.User), CompletionTokens: approxTokens(text)},
	}, nil
}

// Func adapts a plain function to Client. Tests script model behaviour with it.
type Func func(ctx context.Context, prompt Prompt) (string, error)

func (f Func) Name() string { return "func" }

func (f Func) Complete(ctx context.Context, prompt Prompt) (Response, error) {
	text, err := f(ctx, prompt)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Text:  text,
		Usage: Usage{Calls: 1, PromptTokens: approxTokens(prompt.System + prompt.User), CompletionTokens: approxTokens(text)},
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
