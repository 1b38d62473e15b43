package pipeline

import (
	"go.uber.org/zap"

	"auto_article_curator/knowledge"
	"auto_article_curator/outline"
)

// Callbacks observes pipeline progress. OnDialogueTurnEnd is called from
// simulator workers and must be safe for concurrent use.
type Callbacks interface {
	OnIdentifyPerspectiveStart()
	OnIdentifyPerspectiveEnd(personas []string)
	OnInformationGatheringStart()
	OnDialogueTurnEnd(persona string, turn knowledge.DialogueTurn)
	OnInformationGatheringEnd()
	OnDirectOutlineGenerationEnd(tree *outline.Tree)
	OnOutlineRefinementEnd(tree *outline.Tree)
}

// NopCallbacks ignores every event.
type NopCallbacks struct{}

func (NopCallbacks) OnIdentifyPerspectiveStart()                      {}
func (NopCallbacks) OnIdentifyPerspectiveEnd([]string)                {}
func (NopCallbacks) OnInformationGatheringStart()                     {}
func (NopCallbacks) OnDialogueTurnEnd(string, knowledge.DialogueTurn) {}
func (NopCallbacks) OnInformationGatheringEnd()                       {}
func (NopCallbacks) OnDirectOutlineGenerationEnd(*outline.Tree)       {}
func (NopCallbacks) OnOutlineRefinementEnd(*outline.Tree)             {}

// LogCallbacks reports progress through a zap logger.
type LogCallbacks struct {
	Logger *zap.Logger
}

func (c LogCallbacks) OnIdentifyPerspectiveStart() {
	c.Logger.Info("identifying perspectives")
}

func (c LogCallbacks) OnIdentifyPerspectiveEnd(personas []string) {
	c.Logger.Info("perspectives identified", zap.Int("count", len(personas)), zap.Strings("personas", personas))
}

func (c LogCallbacks) OnInformationGatheringStart() {
	c.Logger.Info("information gathering started")
}

func (c LogCallbacks) OnDialogueTurnEnd(persona string, turn knowledge.DialogueTurn) {
	c.Logger.Debug("dialogue turn",
		zap.String("persona", persona),
		zap.String("question", turn.UserUtterance),
		zap.Int("queries", len(turn.SearchQueries)),
		zap.Int("sources", len(turn.SearchResults)))
}

func (c LogCallbacks) OnInformationGatheringEnd() {
	c.Logger.Info("information gathering finished")
}

func (c LogCallbacks) OnDirectOutlineGenerationEnd(tree *outline.Tree) {
	c.Logger.Info("draft outline ready", zap.Int("sections", len(tree.Children(outline.Root))))
}

func (c LogCallbacks) OnOutlineRefinementEnd(tree *outline.Tree) {
	c.Logger.Info("refined outline ready", zap.Int("sections", len(tree.Children(outline.Root))))
}
