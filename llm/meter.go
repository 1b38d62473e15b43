package llm

import (
	"context"
	"sync"
	"time"

	"auto_article_curator/retry"
)

// Retrying wraps a Client with an explicit retry policy.
type Retrying struct {
	Client Client
	Policy retry.Policy
}

func (r Retrying) Name() string { return r.Client.Name() }

func (r Retrying) Complete(ctx context.Context, prompt Prompt) (Response, error) {
	var resp Response
	err := r.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = r.Client.Complete(ctx, prompt)
		return err
	})
	return resp, err
}

// Record is one entry of the call history kept by a Meter.
type Record struct {
	Model    string    `json:"model"`
	Op       string    `json:"op"`
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	Error    string    `json:"error,omitempty"`
	Usage    Usage     `json:"usage"`
	At       time.Time `json:"at"`
}

// Meter records usage and call history for a Client. It is owned by the
// caller that builds the pipeline, so no client keeps hidden global state.
// Safe for concurrent use.
type Meter struct {
	client Client

	mu      sync.Mutex
	usage   Usage
	byOp    map[string]Usage
	history []Record
}

func NewMeter(c Client) *Meter {
	return &Meter{client: c, byOp: make(map[string]Usage)}
}

func (m *Meter) Name() string { return m.client.Name() }

func (m *Meter) Complete(ctx context.Context, prompt Prompt) (Response, error) {
	resp, err := m.client.Complete(ctx, prompt)
	rec := Record{
		Model:    m.client.Name(),
		Op:       prompt.Op,
		Prompt:   prompt.User,
		Response: resp.Text,
		Usage:    resp.Usage,
		At:       time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Add(resp.Usage)
	op := m.byOp[prompt.Op]
	op.Add(resp.Usage)
	m.byOp[prompt.Op] = op
	m.history = append(m.history, rec)
	return resp, err
}

// Drain returns the usage accumulated since the previous Drain and resets it.
func (m *Meter) Drain() (Usage, map[string]Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, byOp := m.usage, m.byOp
	m.usage = Usage{}
	m.byOp = make(map[string]Usage)
	return total, byOp
}

// DrainHistory returns the recorded calls and clears them.
func (m *Meter) DrainHistory() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.history
	m.history = nil
	return out
}
