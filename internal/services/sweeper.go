package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Retrier re-runs failed webhook batches. *Dispatcher implements it.
type Retrier interface {
	RetryFailed(ctx context.Context, maxRetries int) (RetryReport, error)
}

// SweeperStatus is a snapshot of the retry sweeper.
type SweeperStatus struct {
	Running    bool        `json:"running"`
	Sweeping   bool        `json:"sweeping"`
	IntervalMs int64       `json:"intervalMs"`
	MaxRetries int         `json:"maxRetries"`
	LastRunAt  *time.Time  `json:"lastRunAt,omitempty"`
	LastReport RetryReport `json:"lastReport"`
	LastError  string      `json:"lastError,omitempty"`
	TotalRuns  int         `json:"totalRuns"`
}

// RetrySweeper periodically retries failed webhook batches.
type RetrySweeper struct {
	retrier    Retrier
	interval   time.Duration
	maxRetries int

	sweepMu sync.Mutex // one sweep at a time

	mu         sync.RWMutex
	running    bool
	sweeping   bool
	lastRunAt  *time.Time
	lastReport RetryReport
	lastError  string
	totalRuns  int
}

func NewRetrySweeper(retrier Retrier, interval time.Duration, maxRetries int) (*RetrySweeper, error) {
	if retrier == nil {
		return nil, fmt.Errorf("retrier cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	return &RetrySweeper{retrier: retrier, interval: interval, maxRetries: maxRetries}, nil
}

// Start runs the sweep loop until ctx is cancelled. The returned channel is
// closed once the loop has exited.
func (s *RetrySweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	log.Info().
		Dur("interval", s.interval).
		Int("maxRetries", s.maxRetries).
		Msg("Webhook retry sweeper started")

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
				log.Info().Msg("Webhook retry sweeper stopped")
				return
			case <-ticker.C:
				if _, err := s.Trigger(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Webhook retry sweep failed")
				}
			}
		}
	}()
	return done
}

// Trigger runs one sweep now and waits for it.
func (s *RetrySweeper) Trigger(ctx context.Context) (RetryReport, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	s.mu.Lock()
	s.sweeping = true
	s.mu.Unlock()

	report, err := s.retrier.RetryFailed(ctx, s.maxRetries)

	now := time.Now().UTC()
	s.mu.Lock()
	s.sweeping = false
	s.lastRunAt = &now
	s.lastReport = report
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.totalRuns++
	s.mu.Unlock()

	return report, err
}

func (s *RetrySweeper) Status() SweeperStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := SweeperStatus{
		Running:    s.running,
		Sweeping:   s.sweeping,
		IntervalMs: s.interval.Milliseconds(),
		MaxRetries: s.maxRetries,
		LastReport: s.lastReport,
		LastError:  s.lastError,
		TotalRuns:  s.totalRuns,
	}
	if s.lastRunAt != nil {
		at := *s.lastRunAt
		st.LastRunAt = &at
	}
	return st
}
