package store

import (
	"fmt"
	"math"
	"sync"
	"time"

	"coinwatch/src/logger"
	"coinwatch/src/models"
)

// -----------------------------------------------------------------------------
// StateStore
// -----------------------------------------------------------------------------

// StateStore owns the current and previous snapshots. Ingest is called exactly
// once per cycle by the scheduler; readers only ever get a fully-formed
// snapshot reference swapped in under the lock, never a partially-updated one.
type StateStore struct {
	mu         sync.RWMutex
	current    models.MSnapshot
	previous   models.MSnapshot
	lastUpdate int64
	Logger     *logger.Entry
}

// -----------------------------------------------------------------------------

func NewStateStore(log *logger.Log) *StateStore {
	return &StateStore{
		Logger: log.WithComponent("store"),
	}
}

// -----------------------------------------------------------------------------

// Seed installs a snapshot loaded from persistence without computing changes.
func (s *StateStore) Seed(snapshot models.MSnapshot) {
	if len(snapshot) == 0 {
		return
	}
	s.mu.Lock()
	s.current = snapshot
	s.mu.Unlock()
	s.Logger.WithFields(logger.Fields{"assets": len(snapshot)}).Info("seeded from persisted snapshot")
}

// -----------------------------------------------------------------------------

// Ingest diffs the new snapshot against the prior one, attaches change records,
// swaps it in as current, and returns the assets worth pushing to subscribers:
// new assets plus assets with at least one non-zero change.
func (s *StateStore) Ingest(newSnapshot models.MSnapshot) (models.MSnapshot, []*models.MAssetMetrics) {
	now := time.Now().Unix()

	s.mu.Lock()
	prior := s.current

	var updates []*models.MAssetMetrics
	for symbol, metrics := range newSnapshot {
		old, existed := prior[symbol]
		if !existed {
			// First observation: no change records, no timestamp.
			updates = append(updates, metrics)
			continue
		}

		metrics.Changes = make(map[string]*models.MChangeRecord)
		changed := false
		for _, name := range models.MetricNames() {
			rec := computeChange(old.Metric(name), metrics.Metric(name))
			metrics.Changes[name] = rec
			if rec != nil && rec.Absolute != 0 {
				changed = true
			}
		}
		metrics.LastUpdate = now

		if changed {
			updates = append(updates, metrics)
		}
	}

	s.previous = prior
	s.current = newSnapshot
	s.lastUpdate = now
	s.mu.Unlock()

	s.Logger.WithFields(logger.Fields{
		"assets":  len(newSnapshot),
		"updates": len(updates),
	}).Info("snapshot ingested")

	return newSnapshot, updates
}

// -----------------------------------------------------------------------------

// computeChange returns nil when either value is unknown or the old value is
// zero (divide-by-zero guard). The result can never carry NaN or Inf.
func computeChange(old, cur *float64) *models.MChangeRecord {
	if old == nil || cur == nil {
		return nil
	}
	if *old == 0 {
		return nil
	}

	absolute := *cur - *old
	percent := (absolute / *old) * 100
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return nil
	}

	return &models.MChangeRecord{
		Absolute: absolute,
		Percent:  fmt.Sprintf("%.2f", percent),
	}
}

// -----------------------------------------------------------------------------

// Current returns the current snapshot reference. Callers must treat it as
// read-only; the store never mutates a snapshot after the swap.
func (s *StateStore) Current() models.MSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Get returns one asset from the current snapshot.
func (s *StateStore) Get(symbol string) (*models.MAssetMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.current[symbol]
	return m, ok
}

// LastUpdate returns the unix time of the last completed ingest, 0 if none.
func (s *StateStore) LastUpdate() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Count returns the number of assets in the current snapshot.
func (s *StateStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}
