package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auto_article_curator/knowledge"
	"auto_article_curator/llm"
	"auto_article_curator/textutil"
)

// TerminalPhrase ends a conversation when the writer's question starts with it.
const TerminalPhrase = "Thank you so much for your help!"

const (
	defaultMaxTurns   = 3
	defaultMaxThreads = 1
	// HistoryWindow is how many recent turns keep their full answers in the
	// question prompt.
	HistoryWindow   = 4
	maxHistoryWords = 2500
)

// Simulator runs one writer/expert conversation per persona.
type Simulator struct {
	writer llm.Client
	expert *Expert
	logger *zap.Logger

	MaxTurns   int
	MaxThreads int
	// OnTurn is called after every completed turn. It runs on worker
	// goroutines and must be safe for concurrent use.
	OnTurn func(persona string, turn knowledge.DialogueTurn)
}

func NewSimulator(writer llm.Client, expert *Expert, logger *zap.Logger) (*Simulator, error) {
	if writer == nil {
		return nil, errors.New("writer llm client is required")
	}
	if expert == nil {
		return nil, errors.New("expert is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		writer:     writer,
		expert:     expert,
		logger:     logger,
		MaxTurns:   defaultMaxTurns,
		MaxThreads: defaultMaxThreads,
	}, nil
}

type personaResult struct {
	index int
	conv  knowledge.Conversation
	err   error
}

// Run simulates every persona concurrently and returns the conversations in
// persona order. A persona whose turn fails keeps the turns it completed; Run
// fails only when ctx is done or no persona produced a single turn.
func (s *Simulator) Run(ctx context.Context, topic string, personas []string, excludeURLs []string) ([]knowledge.Conversation, error) {
	if len(personas) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(s.MaxThreads, len(personas))))
	results := make(chan personaResult, len(personas))

	for i, persona := range personas {
		g.Go(func() error {
			turns, err := s.converse(gctx, topic, persona, excludeURLs)
			if cerr := gctx.Err(); cerr != nil {
				return cerr
			}
			results <- personaResult{index: i, conv: knowledge.Conversation{Persona: persona, Turns: turns}, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	convs := make([]knowledge.Conversation, len(personas))
	var errs []error
	turns := 0
	for r := range results {
		convs[r.index] = r.conv
		turns += len(r.conv.Turns)
		if r.err != nil {
			s.logger.Warn("conversation ended early",
				zap.String("persona", r.conv.Persona),
				zap.Int("turns", len(r.conv.Turns)),
				zap.Error(r.err))
			errs = append(errs, fmt.Errorf("persona %q: %w", r.conv.Persona, r.err))
		}
	}
	if turns == 0 && len(errs) == len(personas) {
		return nil, errors.Join(errs...)
	}
	return convs, nil
}

func (s *Simulator) converse(ctx context.Context, topic, persona string, excludeURLs []string) ([]knowledge.DialogueTurn, error) {
	var turns []knowledge.DialogueTurn
	for len(turns) < s.MaxTurns {
		question, err := llm.Generate(ctx, s.writer, questionRequest{
			Topic:   topic,
			Persona: persona,
			History: renderHistory(turns),
		})
		if errors.Is(err, llm.ErrEmptyOutput) {
			break
		}
		if err != nil {
			return turns, err
		}
		if strings.HasPrefix(question, TerminalPhrase) {
			break
		}

		ans, err := s.expert.Answer(ctx, topic, question, excludeURLs)
		if err != nil {
			return turns, err
		}
		answer, stripped := textutil.StripOutOfRange(ans.Answer, len(ans.Evidence))
		if stripped > 0 {
			s.logger.Debug("stripped out-of-range citations", zap.String("persona", persona), zap.Int("count", stripped))
		}
		turn := knowledge.DialogueTurn{
			UserUtterance:  question,
			AgentUtterance: textutil.TrimIncompleteSentence(answer),
			SearchQueries:  ans.Queries,
			SearchResults:  ans.Evidence,
		}
		turns = append(turns, turn)
		if s.OnTurn != nil {
			s.OnTurn(persona, turn)
		}
	}
	return turns, nil
}

// renderHistory keeps the last HistoryWindow turns verbatim and elides the
// answers of older ones.
func renderHistory(turns []knowledge.DialogueTurn) string {
	cut := max(0, len(turns)-HistoryWindow)
	lines := make([]string, 0, len(turns))
	for i, t := range turns {
		answer := "Omit the answer here due to space limit."
		if i >= cut {
			answer = textutil.RemoveCitations(t.AgentUtterance)
		}
		lines = append(lines, fmt.Sprintf("You: %s\nExpert: %s", t.UserUtterance, answer))
	}
	return textutil.LimitWords(strings.Join(lines, "\n"), maxHistoryWords)
}
