package outline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"auto_article_curator/knowledge"
	"auto_article_curator/llm"
	"auto_article_curator/textutil"
)

// ErrEmptyOutline is returned when the model produced no usable headings.
var ErrEmptyOutline = errors.New("outline: no sections")

const maxConversationWords = 5000

// Engine drafts and refines outlines.
type Engine struct {
	lm     llm.Client
	logger *zap.Logger
}

func NewEngine(lm llm.Client, logger *zap.Logger) (*Engine, error) {
	if lm == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{lm: lm, logger: logger}, nil
}

// Draft writes an outline from the model's own knowledge.
func (e *Engine) Draft(ctx context.Context, topic string) (*Tree, error) {
	out, err := llm.Generate(ctx, e.lm, draftRequest{Topic: topic})
	if err != nil {
		return nil, err
	}
	tree := Parse(Clean(out, topic), topic)
	if len(tree.Children(Root)) == 0 {
		return nil, fmt.Errorf("draft: %w", ErrEmptyOutline)
	}
	return tree, nil
}

// Refine improves draft using what the research conversations found. A
// refinement without sections falls back to a copy of the draft.
func (e *Engine) Refine(ctx context.Context, topic string, draft *Tree, convs []knowledge.Conversation) (*Tree, error) {
	if draft == nil {
		return nil, errors.New("refine: draft outline is required")
	}
	out, err := llm.Generate(ctx, e.lm, refineRequest{
		Topic:         topic,
		Draft:         draft.Markdown(),
		Conversations: RenderConversations(convs),
	})
	if err != nil {
		return nil, err
	}
	tree := Parse(Clean(out, topic), topic)
	if len(tree.Children(Root)) == 0 {
		e.logger.Warn("refined outline has no sections, keeping draft", zap.String("topic", topic))
		return draft.Clone(), nil
	}
	return tree, nil
}

// RenderConversations flattens conversations for prompting: citations
// removed, capped at 5000 words.
func RenderConversations(convs []knowledge.Conversation) string {
	var sb strings.Builder
	for _, c := range convs {
		for _, turn := range c.Turns {
			sb.WriteString(fmt.Sprintf("Writer: %s\nExpert: %s\n", turn.UserUtterance, textutil.RemoveCitations(turn.AgentUtterance)))
		}
	}
	return textutil.LimitWords(strings.TrimSpace(sb.String()), maxConversationWords)
}

type draftRequest struct {
	Topic string
}

func (r draftRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	return nil
}

func (r draftRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("Write an outline for a reference article on the given topic.\n")
	sb.WriteString("- Use \"#\" for section titles, \"##\" for subsections, \"###\" for sub-subsections, and so on.\n")
	sb.WriteString("- Do not include the topic itself as a heading.\n")
	sb.WriteString("- Output the outline only, with no other text.\n")
	return llm.Prompt{
		Op:     "draft_outline",
		System: sb.String(),
		User:   fmt.Sprintf("The topic you want to write: %s", r.Topic),
	}
}

type refineRequest struct {
	Topic         string
	Draft         string
	Conversations string
}

func (r refineRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	if strings.TrimSpace(r.Draft) == "" {
		return errors.New("draft outline is required")
	}
	return nil
}

func (r refineRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("Improve the outline of a reference article.\n")
	sb.WriteString("You already have a draft outline covering the general information, and you have gathered more information from conversations with experts.\n")
	sb.WriteString("Make the outline more comprehensive and specific using what the conversations revealed.\n")
	sb.WriteString("- Use \"#\" for section titles, \"##\" for subsections, \"###\" for sub-subsections, and so on.\n")
	sb.WriteString("- Output the outline only, with no other text.\n")
	conv := r.Conversations
	if strings.TrimSpace(conv) == "" {
		conv = "N/A"
	}
	user := fmt.Sprintf("The topic you want to write: %s\n\nConversation history:\n%s\n\nCurrent outline:\n%s\n\nWrite the improved outline:",
		r.Topic, conv, r.Draft)
	return llm.Prompt{Op: "refine_outline", System: sb.String(), User: user}
}
