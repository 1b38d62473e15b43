// Package pipeline runs the curation stages in order, persists what each
// produces and recovers from a failed stage through a fallback model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auto_article_curator/article"
	"auto_article_curator/embedding"
	"auto_article_curator/knowledge"
	"auto_article_curator/llm"
	"auto_article_curator/outline"
	"auto_article_curator/research"
	"auto_article_curator/store"
)

// Stage names one step of a run.
type Stage string

const (
	StageResearch Stage = "research"
	StageOutline  Stage = "outline"
	StageArticle  Stage = "article"
	StagePolish   Stage = "polish"
)

// Stages selects which steps run. A disabled step's artifact is read from
// the store when an enabled later step needs it.
type Stages struct {
	Research bool
	Outline  bool
	Article  bool
	Polish   bool
}

func AllStages() Stages {
	return Stages{Research: true, Outline: true, Article: true, Polish: true}
}

func (s Stages) names() []string {
	var out []string
	for _, st := range []struct {
		on   bool
		name Stage
	}{{s.Research, StageResearch}, {s.Outline, StageOutline}, {s.Article, StageArticle}, {s.Polish, StagePolish}} {
		if st.on {
			out = append(out, string(st.name))
		}
	}
	return out
}

// StageError reports a failed stage. Missing is set when the stage could not
// start because a persisted artifact it depends on does not exist.
type StageError struct {
	Stage   Stage
	Missing string
	Err     error
}

func (e *StageError) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("stage %s: required artifact %s not found: %v", e.Stage, e.Missing, e.Err)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrNoStages is returned by Run when every stage is disabled.
var ErrNoStages = errors.New("no stages enabled")

// Artifacts is what a run has produced or loaded so far; absent ones are nil.
type Artifacts struct {
	Conversations []knowledge.Conversation
	Table         *knowledge.Table
	Outline       *outline.Tree
	Article       *article.Article
}

// Result is the outcome of Run.
type Result struct {
	RunID        string
	Article      *article.Article
	UsedFallback bool
	Artifacts    Artifacts
}

// QueryCounter reports search queries issued since the last call.
type QueryCounter interface {
	DrainQueryCount() int64
}

// Options wires a Runner. Personas, Simulator, Outline, Generator, Polisher,
// Embedder and Store are required; the rest are optional.
type Options struct {
	Personas  *research.PersonaGenerator
	Simulator *research.Simulator
	Outline   *outline.Engine
	Generator *article.Generator
	Polisher  *article.Polisher
	Embedder  embedding.Engine
	Store     *store.Store

	// Fallback writes the article directly when a stage fails.
	Fallback llm.Client
	// Meters maps an LM role to the meter wrapping its client.
	Meters    map[string]*llm.Meter
	Searches  QueryCounter
	Callbacks Callbacks
	Logger    *zap.Logger

	MaxPerspective int
	ExcludeURLs    []string
}

// Runner executes the stages. A Runner is not safe for concurrent Runs
// because usage meters are drained per run.
type Runner struct {
	opts   Options
	cb     Callbacks
	logger *zap.Logger
	now    func() time.Time
}

func New(opts Options) (*Runner, error) {
	switch {
	case opts.Personas == nil:
		return nil, errors.New("persona generator is required")
	case opts.Simulator == nil:
		return nil, errors.New("conversation simulator is required")
	case opts.Outline == nil:
		return nil, errors.New("outline engine is required")
	case opts.Generator == nil:
		return nil, errors.New("article generator is required")
	case opts.Polisher == nil:
		return nil, errors.New("polisher is required")
	case opts.Embedder == nil:
		return nil, errors.New("embedding engine is required")
	case opts.Store == nil:
		return nil, errors.New("store is required")
	}
	r := &Runner{opts: opts, cb: opts.Callbacks, logger: opts.Logger, now: time.Now}
	if r.cb == nil {
		r.cb = NopCallbacks{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	opts.Simulator.OnTurn = r.cb.OnDialogueTurnEnd
	return r, nil
}

// Run executes the enabled stages for topic. When a stage fails and a
// fallback client is configured, the fallback article is stored as the
// polished article and returned without error. Cancellation is never routed
// to the fallback.
func (r *Runner) Run(ctx context.Context, topic string, stages Stages) (res Result, err error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{}, errors.New("topic is required")
	}
	if stages == (Stages{}) {
		return Result{}, ErrNoStages
	}
	rs := &RunInfo{ID: uuid.NewString(), Topic: topic, Started: r.now(), Stages: stages.names()}
	res.RunID = rs.ID
	logger := r.logger.With(zap.String("topic", topic), zap.String("run_id", rs.ID))
	defer func() {
		rs.Fallback = res.UsedFallback
		if err != nil {
			rs.Err = err
		}
		if perr := r.PostRun(rs); perr != nil {
			logger.Warn("post-run accounting failed", zap.Error(perr))
		}
	}()

	logger.Info("run started", zap.Strings("stages", rs.Stages))
	arts, err := r.runStages(ctx, topic, stages, rs)
	res.Artifacts = arts
	if err == nil {
		res.Article = arts.Article
		logger.Info("run finished")
		return res, nil
	}

	logger.Error("stage failed", zap.Error(err))
	rs.Err = err
	if ctx.Err() != nil || r.opts.Fallback == nil {
		return res, err
	}
	a, ferr := r.fallback(ctx, topic, arts, rs.ID)
	if ferr != nil {
		logger.Error("fallback failed", zap.Error(ferr))
		return res, err
	}
	logger.Warn("article written by fallback model")
	res.Article = a
	res.UsedFallback = true
	return res, nil
}

func (r *Runner) runStages(ctx context.Context, topic string, stages Stages, rs *RunInfo) (Artifacts, error) {
	var arts Artifacts
	st := r.opts.Store

	// research
	switch {
	case stages.Research:
		if err := r.research(ctx, topic, &arts); err != nil {
			return arts, &StageError{Stage: StageResearch, Err: err}
		}
	default:
		if stages.Outline {
			convs, err := st.LoadConversations(topic)
			if err != nil {
				return arts, missing(StageOutline, store.ConversationLog, err)
			}
			arts.Conversations = convs
		}
		if stages.Article {
			t, err := st.LoadTable(topic)
			if err != nil {
				return arts, missing(StageArticle, store.RawSearchResults, err)
			}
			arts.Table = t
		}
	}

	// outline
	switch {
	case stages.Outline:
		if err := r.outline(ctx, topic, rs.ID, &arts); err != nil {
			return arts, &StageError{Stage: StageOutline, Err: err}
		}
	case stages.Article:
		tree, err := st.LoadOutline(topic, store.RefinedOutline)
		if err != nil {
			return arts, missing(StageArticle, store.RefinedOutline, err)
		}
		arts.Outline = tree
	}

	// article
	switch {
	case stages.Article:
		if err := r.article(ctx, topic, rs, &arts); err != nil {
			return arts, &StageError{Stage: StageArticle, Err: err}
		}
	case stages.Polish:
		a, _, err := st.LoadArticle(topic, store.DraftArticle)
		if err != nil {
			return arts, missing(StagePolish, store.DraftArticle, err)
		}
		arts.Article = a
	}

	if stages.Polish {
		polished, err := r.opts.Polisher.Polish(ctx, arts.Article)
		if err != nil {
			return arts, &StageError{Stage: StagePolish, Err: err}
		}
		if err := st.SaveArticle(topic, store.PolishedArticle, r.meta(topic, store.PolishedArticle, rs.ID), polished); err != nil {
			return arts, &StageError{Stage: StagePolish, Err: err}
		}
		arts.Article = polished
	}
	return arts, nil
}

func missing(stage Stage, file string, err error) *StageError {
	if !errors.Is(err, store.ErrMissing) {
		return &StageError{Stage: stage, Err: err}
	}
	return &StageError{Stage: stage, Missing: file, Err: err}
}

func (r *Runner) research(ctx context.Context, topic string, arts *Artifacts) error {
	r.cb.OnIdentifyPerspectiveStart()
	personas, err := r.opts.Personas.Generate(ctx, topic, r.opts.MaxPerspective)
	if err != nil {
		return fmt.Errorf("generate personas: %w", err)
	}
	r.cb.OnIdentifyPerspectiveEnd(personas)

	r.cb.OnInformationGatheringStart()
	convs, err := r.opts.Simulator.Run(ctx, topic, personas, r.opts.ExcludeURLs)
	if err != nil {
		return fmt.Errorf("simulate conversations: %w", err)
	}
	arts.Conversations = convs
	table := knowledge.NewTable()
	if err := table.Merge(convs...); err != nil {
		return err
	}
	arts.Table = table
	r.cb.OnInformationGatheringEnd()

	if err := r.opts.Store.SaveConversations(topic, convs); err != nil {
		return err
	}
	return r.opts.Store.SaveTable(topic, table)
}

func (r *Runner) outline(ctx context.Context, topic, runID string, arts *Artifacts) error {
	draft, err := r.opts.Outline.Draft(ctx, topic)
	if err != nil {
		return fmt.Errorf("draft outline: %w", err)
	}
	if err := r.opts.Store.SaveOutline(topic, store.DraftOutline, r.meta(topic, store.DraftOutline, runID), draft); err != nil {
		return err
	}
	r.cb.OnDirectOutlineGenerationEnd(draft)

	refined, err := r.opts.Outline.Refine(ctx, topic, draft, arts.Conversations)
	if err != nil {
		return fmt.Errorf("refine outline: %w", err)
	}
	arts.Outline = refined
	if err := r.opts.Store.SaveOutline(topic, store.RefinedOutline, r.meta(topic, store.RefinedOutline, runID), refined); err != nil {
		return err
	}
	r.cb.OnOutlineRefinementEnd(refined)
	return nil
}

func (r *Runner) article(ctx context.Context, topic string, rs *RunInfo, arts *Artifacts) error {
	if err := arts.Table.Freeze(ctx, r.opts.Embedder); err != nil {
		return fmt.Errorf("freeze information table: %w", err)
	}
	a, u, err := r.opts.Generator.Generate(ctx, topic, arts.Outline, arts.Table)
	rs.Stripped = u.Stripped
	if a != nil {
		arts.Article = a
	}
	if err != nil {
		return err
	}
	return r.opts.Store.SaveArticle(topic, store.DraftArticle, r.meta(topic, store.DraftArticle, rs.ID), a)
}

func (r *Runner) meta(topic, artifact, runID string) store.Meta {
	return store.Meta{Topic: topic, Artifact: artifact, RunID: runID, Created: r.now()}
}
