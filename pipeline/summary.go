package pipeline

import (
	"errors"
	"sort"
	"time"

	"auto_article_curator/llm"
	"auto_article_curator/store"
)

// RunInfo describes a finished or failed run for PostRun.
type RunInfo struct {
	ID       string
	Topic    string
	Started  time.Time
	Stages   []string
	Stripped int
	Fallback bool
	Err      error
}

// RoleUsage is the usage of one LM role during a run.
type RoleUsage struct {
	Model string               `json:"model"`
	Total llm.Usage            `json:"total"`
	ByOp  map[string]llm.Usage `json:"by_op,omitempty"`
}

// Summary is written to run_summary.json after every run.
type Summary struct {
	RunID             string               `json:"run_id"`
	Topic             string               `json:"topic"`
	Started           time.Time            `json:"started"`
	Finished          time.Time            `json:"finished"`
	Stages            []string             `json:"stages"`
	Status            string               `json:"status"`
	Error             string               `json:"error,omitempty"`
	ByRole            map[string]RoleUsage `json:"by_role"`
	ByModel           map[string]llm.Usage `json:"by_model"`
	SearchQueries     int64                `json:"search_queries"`
	CitationsStripped int                  `json:"citations_stripped"`
}

// PostRun drains the usage meters and the search counter, then writes the
// run summary and appends every LM call to the call history.
func (r *Runner) PostRun(rs *RunInfo) error {
	sum := Summary{
		RunID:             rs.ID,
		Topic:             rs.Topic,
		Started:           rs.Started,
		Finished:          r.now(),
		Stages:            rs.Stages,
		Status:            "ok",
		ByRole:            make(map[string]RoleUsage),
		ByModel:           make(map[string]llm.Usage),
		CitationsStripped: rs.Stripped,
	}
	switch {
	case rs.Fallback:
		sum.Status = "fallback"
	case rs.Err != nil:
		sum.Status = "failed"
	}
	if rs.Err != nil {
		sum.Error = rs.Err.Error()
	}

	roles := make([]string, 0, len(r.opts.Meters))
	for role := range r.opts.Meters {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var history []any
	for _, role := range roles {
		m := r.opts.Meters[role]
		total, byOp := m.Drain()
		sum.ByRole[role] = RoleUsage{Model: m.Name(), Total: total, ByOp: byOp}
		u := sum.ByModel[m.Name()]
		u.Add(total)
		sum.ByModel[m.Name()] = u
		for _, rec := range m.DrainHistory() {
			history = append(history, callRecord{RunID: rs.ID, Role: role, Record: rec})
		}
	}
	if r.opts.Searches != nil {
		sum.SearchQueries = r.opts.Searches.DrainQueryCount()
	}

	return errors.Join(
		r.opts.Store.WriteJSON(rs.Topic, store.RunSummary, sum),
		r.opts.Store.AppendJSONL(rs.Topic, store.CallHistory, history...),
	)
}

type callRecord struct {
	RunID string `json:"run_id"`
	Role  string `json:"role"`
	llm.Record
}
