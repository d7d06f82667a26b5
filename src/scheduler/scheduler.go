package scheduler

import (
	"context"
	"time"

	"coinwatch/src/admission"
	"coinwatch/src/interfaces"
	"coinwatch/src/logger"
	"coinwatch/src/models"
	"coinwatch/src/store"
	"coinwatch/src/utils"
)

// -----------------------------------------------------------------------------
// Refresh Scheduler
// -----------------------------------------------------------------------------
// Owns the periodic refresh cycle: fetch from upstream, ingest into the state
// store, persist, publish. The circuit breaker gates every fetch; a failed
// cycle keeps the previous snapshot serving.

// Publisher receives the new snapshot and the changed subset after a
// successful cycle.
type Publisher interface {
	PublishSnapshot(snapshot models.MSnapshot, updates []*models.MAssetMetrics)
}

type Scheduler struct {
	Config      *models.MConfig
	Logger      *logger.Entry
	Upstream    interfaces.IUpstreamClient
	Store       *store.StateStore
	Persistence interfaces.IPersistence
	Breaker     *admission.CircuitBreaker
	Publisher   Publisher

	refreshNow chan struct{}
	cycleTimes *utils.RingBuffer // recent cycle durations, millis
}

// -----------------------------------------------------------------------------

func NewScheduler(
	cfg *models.MConfig,
	log *logger.Log,
	upstream interfaces.IUpstreamClient,
	st *store.StateStore,
	persistence interfaces.IPersistence,
	breaker *admission.CircuitBreaker,
	publisher Publisher,
) *Scheduler {
	return &Scheduler{
		Config:      cfg,
		Logger:      log.WithComponent("scheduler"),
		Upstream:    upstream,
		Store:       st,
		Persistence: persistence,
		Breaker:     breaker,
		Publisher:   publisher,
		refreshNow:  make(chan struct{}, 1),
		cycleTimes:  utils.NewRingBuffer(32),
	}
}

// -----------------------------------------------------------------------------

// RefreshNow requests an immediate cycle. Coalesces: a pending request is
// enough, extra kicks are dropped.
func (s *Scheduler) RefreshNow() {
	select {
	case s.refreshNow <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

// Run drives the refresh loop until ctx is cancelled. History older than the
// retention horizon is pruned once at startup, not on a recurring timer.
func (s *Scheduler) Run(ctx context.Context) {
	retention := time.Duration(s.Config.Storage.RetentionDays) * 24 * time.Hour
	if err := s.Persistence.Prune(retention); err != nil {
		s.Logger.WithError(err).Warn("startup prune failed")
	}

	interval := time.Duration(s.Config.Upstream.RefreshIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)

		case <-s.refreshNow:
			s.runCycle(ctx)
			// Keep the cadence anchored to the most recent cycle.
			ticker.Reset(interval)

		case <-ctx.Done():
			s.Logger.Info("scheduler stopped")
			return
		}
	}
}

// -----------------------------------------------------------------------------

// RecentCycleMillis reports the durations of recent successful cycles, oldest
// first (for the status endpoint).
func (s *Scheduler) RecentCycleMillis() []float64 {
	return s.cycleTimes.GetAll()
}

// -----------------------------------------------------------------------------

// runCycle performs one fetch-ingest-persist-publish pass.
func (s *Scheduler) runCycle(ctx context.Context) {
	if !s.Breaker.Allow() {
		s.Logger.WithFields(logger.Fields{"state": s.Breaker.State().String()}).
			Info("refresh skipped, breaker not allowing calls")
		return
	}

	started := time.Now()
	fetched, err := s.Upstream.FetchAll(ctx)
	if err != nil {
		s.Breaker.RecordFailure()
		s.Logger.WithError(err).Error("upstream fetch failed, keeping previous snapshot")
		return
	}
	s.Breaker.RecordSuccess()
	s.cycleTimes.Append(float64(time.Since(started).Milliseconds()))

	snapshot, updates := s.Store.Ingest(fetched)

	if err := s.Persistence.Save(snapshot); err != nil {
		// Persistence trouble must not stop the live feed.
		s.Logger.WithError(err).Error("failed to persist snapshot")
	}

	// Always publish: even with no changed assets the replay snapshot must
	// advance so new joins see current values.
	if s.Publisher != nil {
		s.Publisher.PublishSnapshot(snapshot, updates)
	}

	s.Logger.WithFields(logger.Fields{
		"assets":  len(snapshot),
		"updates": len(updates),
		"took":    time.Since(started).Round(time.Millisecond).String(),
	}).Info("refresh cycle complete")
}
