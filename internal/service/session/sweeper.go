package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = time.Minute

// Sweeper periodically evicts expired sessions from a Store. Eviction is
// advisory; lazy expiry on access already hides stale sessions.
type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
	cron     *cron.Cron
}

// NewSweeper schedules EvictExpired every interval.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		now:      time.Now,
		cron:     cron.New(),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.SweepNow); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	s.cron.Start()

	log.Info().Str("component", "session").Dur("interval", s.interval).Msg("session sweeper started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Str("component", "session").Msg("session sweeper stopped")
}

// SweepNow runs one eviction pass.
func (s *Sweeper) SweepNow() {
	evicted, err := s.store.EvictExpired(context.Background(), s.now())
	if err != nil {
		log.Error().Err(err).Str("component", "session").Msg("session sweep failed")
		return
	}
	if evicted == 0 {
		return
	}
	evt := log.Debug().Str("component", "session").Int("evicted", evicted)
	if sized, ok := s.store.(interface{ Len() int }); ok {
		evt = evt.Int("remaining", sized.Len())
	}
	evt.Msg("expired sessions evicted")
}
