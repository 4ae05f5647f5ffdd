package service

import (
	"context"
	"log"
	"sync"
	"time"

	"pantry-api/internal/cache"
	"pantry-api/internal/repository"
)

// DecayConfig holds configuration for the decay scheduler.
type DecayConfig struct {
	// Interval is how often the sweep runs. Default: 6 hours
	Interval time.Duration

	// InitialDelay postpones the first sweep after Start. Default: 1 minute
	InitialDelay time.Duration
}

// DecayScheduler periodically persists time decay onto stored confidences so
// that an item idle for months steps down through every level rather than
// only one step at read time.
type DecayScheduler struct {
	repo  repository.InventoryRepository
	ready Readiness
	cache cache.Cache
	now   func() time.Time

	config    DecayConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewDecayScheduler creates a new decay scheduler. cache may be nil.
func NewDecayScheduler(repo repository.InventoryRepository, ready Readiness, c cache.Cache, config DecayConfig) *DecayScheduler {
	if config.Interval <= 0 {
		config.Interval = 6 * time.Hour
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Minute
	}

	return &DecayScheduler{
		repo:   repo,
		ready:  ready,
		cache:  c,
		now:    time.Now,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *DecayScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	log.Printf("[DecayScheduler] Started - Interval: %v", s.config.Interval)

	go func() {
		select {
		case <-time.After(s.config.InitialDelay):
			s.runSweep()
		case <-s.stopCh:
		}
	}()

	go s.run()
}

func (s *DecayScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.runSweep()
		case <-s.stopCh:
			log.Printf("[DecayScheduler] Stopped")
			return
		}
	}
}

func (s *DecayScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.RunNow(ctx)
	if err != nil {
		log.Printf("[DecayScheduler] Error during sweep: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[DecayScheduler] Decayed %d item confidences", n)
	}
}

// Stop stops the scheduler. Safe to call more than once.
func (s *DecayScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow performs one sweep and drops cached listings if anything changed.
func (s *DecayScheduler) RunNow(ctx context.Context) (int64, error) {
	if s.ready != nil {
		if err := s.ready.Wait(ctx); err != nil {
			return 0, err
		}
	}
	n, err := s.repo.ApplyDecay(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 && s.cache != nil {
		if _, err := s.cache.DeletePrefix(ctx, listingKeyPrefix); err != nil {
			log.Printf("[DecayScheduler] Failed to invalidate listings: %v", err)
		}
	}
	return n, nil
}
