package pipeline

import (
	"errors"
	"sync"

	"setforge/internal/config"
	"setforge/internal/normalize"
)

// ErrBusy is returned by TryRun while another stage is in flight.
var ErrBusy = errors.New("another stage is running")

// StageFunc is one stage invocation against a pipeline.
type StageFunc func(p *Pipeline) (*Summary, error)

// Runner serializes stages that share output folders. Every stage gets a
// pipeline bound to its own copy of the configuration, so edits made while a
// stage is in flight only reach the next one.
type Runner struct {
	mu   sync.Mutex
	base *Pipeline
}

// NewRunner returns a runner whose stages share base's logger, metrics,
// annotator and run ID.
func NewRunner(base *Pipeline) *Runner {
	return &Runner{base: base}
}

// Run waits for any stage in flight, then runs fn on a pipeline bound to cfg.
func (r *Runner) Run(cfg *config.Config, fn StageFunc) (*Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.base.withConfig(cfg))
}

// TryRun is Run without the wait: it returns ErrBusy when a stage is in flight.
func (r *Runner) TryRun(cfg *config.Config, fn StageFunc) (*Summary, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()
	return fn(r.base.withConfig(cfg))
}

// withConfig returns a copy of p bound to a private clone of cfg.
func (p *Pipeline) withConfig(cfg *config.Config) *Pipeline {
	cfg = cfg.Clone()
	q := *p
	q.cfg = cfg
	q.files = NewFileManager(cfg, p.logger)
	q.normalizer = normalize.New(p.logger)
	q.normalizer.WinrateFromForwardResult = cfg.Normalize.WinrateFromForwardResult
	return &q
}
