package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerTryRunWhileBusy(t *testing.T) {
	cfg := testConfig(t)
	r := NewRunner(New(cfg, zerolog.Nop()))

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(cfg, func(*Pipeline) (*Summary, error) {
			close(entered)
			<-release
			return &Summary{}, nil
		})
		done <- err
	}()
	<-entered

	_, err := r.TryRun(cfg, func(*Pipeline) (*Summary, error) {
		t.Error("stage ran while another was in flight")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)

	s, err := r.TryRun(cfg, func(*Pipeline) (*Summary, error) { return &Summary{Stage: StageRun}, nil })
	require.NoError(t, err)
	assert.Equal(t, StageRun, s.Stage)
}

func TestRunnerRunWaits(t *testing.T) {
	cfg := testConfig(t)
	r := NewRunner(New(cfg, zerolog.Nop()))

	release := make(chan struct{})
	entered := make(chan struct{})
	go r.Run(cfg, func(*Pipeline) (*Summary, error) {
		close(entered)
		<-release
		return nil, nil
	})
	<-entered

	second := make(chan struct{})
	go func() {
		r.Run(cfg, func(*Pipeline) (*Summary, error) { return nil, nil })
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("second stage did not wait for the first")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.Eventually(t, func() bool {
		select {
		case <-second:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunnerIsolatesConfig(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Paths.Template, goldTemplate)
	writeFile(t, filepath.Join(cfg.Paths.ProcessedCSV, "t.csv"), optimizationCSV)
	r := NewRunner(New(cfg, zerolog.Nop(), WithRunID("run-1")))

	entered := make(chan struct{})
	release := make(chan struct{})
	result := make(chan *Summary, 1)
	go func() {
		s, _ := r.Run(cfg, func(p *Pipeline) (*Summary, error) {
			close(entered)
			<-release
			return p.Run(context.Background(), "")
		})
		result <- s
	}()
	<-entered

	// editing the form while the stage runs must not change its thresholds
	cfg.SetThreshold("trades", 10000)
	close(release)

	s := <-result
	require.NotNil(t, s)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 1, s.Survivors)
	assert.Nil(t, s.Empty)
}
