package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"auto_article_curator/knowledge"
	"auto_article_curator/llm"
	"auto_article_curator/retriever"
	"auto_article_curator/textutil"
)

// NoEvidenceAnswer is returned verbatim when retrieval found nothing.
const NoEvidenceAnswer = "Sorry, I cannot find information for this question. Please ask another question."

const (
	defaultMaxQueries      = 3
	defaultMaxContextWords = 1000
)

// ExpertAnswer is the result of answering one question.
type ExpertAnswer struct {
	Queries  []string
	Evidence []knowledge.Evidence
	Answer   string
}

// Expert answers writer questions from retrieved evidence only.
type Expert struct {
	lm        llm.Client
	retriever retriever.Retriever
	logger    *zap.Logger

	MaxQueries      int
	MaxContextWords int
}

func NewExpert(lm llm.Client, r retriever.Retriever, logger *zap.Logger) (*Expert, error) {
	if lm == nil {
		return nil, errors.New("llm client is required")
	}
	if r == nil {
		return nil, errors.New("retriever is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expert{
		lm:              lm,
		retriever:       r,
		logger:          logger,
		MaxQueries:      defaultMaxQueries,
		MaxContextWords: defaultMaxContextWords,
	}, nil
}

// Answer decomposes question into search queries, retrieves evidence and
// synthesizes a cited answer. excludeURLs are filtered out of the results;
// the same page can still surface through a different URL.
func (e *Expert) Answer(ctx context.Context, topic, question string, excludeURLs []string) (ExpertAnswer, error) {
	raw, err := llm.Generate(ctx, e.lm, queryRequest{Topic: topic, Question: question, Max: e.MaxQueries})
	if err != nil {
		return ExpertAnswer{}, err
	}
	queries := textutil.ParseList(raw)
	if len(queries) == 0 {
		queries = []string{question}
	}
	if e.MaxQueries > 0 && len(queries) > e.MaxQueries {
		queries = queries[:e.MaxQueries]
	}

	evidence, err := e.retriever.Search(ctx, queries, excludeURLs)
	if err != nil {
		return ExpertAnswer{}, fmt.Errorf("search: %w", err)
	}
	ans := ExpertAnswer{Queries: queries, Evidence: evidence}
	if len(evidence) == 0 {
		e.logger.Debug("no evidence found", zap.String("question", question))
		ans.Answer = NoEvidenceAnswer
		return ans, nil
	}

	info := textutil.LimitWords(contextBlock(evidence), e.MaxContextWords)
	out, err := llm.Generate(ctx, e.lm, answerRequest{Topic: topic, Question: question, Info: info})
	if err != nil {
		return ExpertAnswer{}, err
	}
	ans.Answer = textutil.TrimIncompleteSentence(out)
	return ans, nil
}

// contextBlock renders one snippet per source as "[i]: snippet".
func contextBlock(evidence []knowledge.Evidence) string {
	var sb strings.Builder
	for i, ev := range evidence {
		snippet := ev.Description
		if len(ev.Snippets) > 0 {
			snippet = ev.Snippets[0]
		}
		sb.WriteString(fmt.Sprintf("[%d]: %s\n\n", i+1, strings.TrimSpace(snippet)))
	}
	return strings.TrimSpace(sb.String())
}
