// Package scoring asks a language model for a short qualitative comment on a
// surviving parameter set. Comments are annotations only: a failed or
// disabled scorer never stops a run.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DisabledComment is returned for every request when no scorer is configured.
const DisabledComment = "scoring disabled"

// ErrRateLimited marks a scorer error worth retrying after the backoff.
var ErrRateLimited = errors.New("rate limited")

// Scorer returns a free-text assessment for prompt.
type Scorer interface {
	Score(ctx context.Context, prompt string) (string, error)
}

// Options bound the retry loop.
type Options struct {
	Attempts int
	Backoff  time.Duration
}

// Annotator wraps a Scorer with a fixed-backoff retry on rate limiting.
type Annotator struct {
	scorer   Scorer
	attempts int
	backoff  time.Duration
	logger   zerolog.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewAnnotator returns an Annotator. A nil scorer yields DisabledComment for
// every request.
func NewAnnotator(s Scorer, opts Options, logger zerolog.Logger) *Annotator {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Annotator{
		scorer:   s,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		logger:   logger.With().Str("component", "scoring").Logger(),
		sleep:    sleepCtx,
	}
}

// Enabled reports whether a real scorer is attached.
func (a *Annotator) Enabled() bool { return a != nil && a.scorer != nil }

// Annotate returns the scorer's comment, or a "scoring error: ..." comment
// when the scorer fails, is rate limited on every attempt, or ctx ends.
func (a *Annotator) Annotate(ctx context.Context, prompt string) string {
	if !a.Enabled() {
		return DisabledComment
	}
	for attempt := 1; ; attempt++ {
		text, err := a.scorer.Score(ctx, prompt)
		if err == nil {
			return strings.TrimSpace(text)
		}
		if !errors.Is(err, ErrRateLimited) {
			a.logger.Warn().Err(err).Msg("scoring failed")
			return "scoring error: " + err.Error()
		}
		if attempt >= a.attempts {
			a.logger.Warn().Int("attempts", attempt).Msg("scoring rate limited; giving up")
			return "scoring error: rate limit exceeded"
		}
		a.logger.Warn().
			Int("attempt", attempt).
			Dur("backoff", a.backoff).
			Msg("scoring rate limited; waiting")
		if err := a.sleep(ctx, a.backoff); err != nil {
			return "scoring error: " + err.Error()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetfilePrompt asks for a review of one survivor's statistics.
func SetfilePrompt(stats map[string]string) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("Validate this EA setfile based on these stats:\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, stats[k])
	}
	return sb.String()
}

// ReportPrompt asks for a durability score of a forward-test report.
func ReportPrompt(filename string) string {
	return fmt.Sprintf("Evaluate the durability of this EA based on equity curve HTML report name: %s. "+
		"Score for robustness, stability, and drawdown resilience.", filename)
}
