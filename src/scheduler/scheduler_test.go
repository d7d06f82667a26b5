package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinwatch/src/admission"
	"coinwatch/src/logger"
	"coinwatch/src/models"
	"coinwatch/src/store"
)

func fp(v float64) *float64 { return &v }

type fakeUpstream struct {
	snapshot models.MSnapshot
	err      error
	calls    int
}

func (f *fakeUpstream) FetchAll(ctx context.Context) (models.MSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakePersistence struct {
	saved  []models.MSnapshot
	pruned []time.Duration
}

func (f *fakePersistence) Initialize() error               { return nil }
func (f *fakePersistence) Load() (models.MSnapshot, error) { return nil, nil }
func (f *fakePersistence) Close() error                    { return nil }

func (f *fakePersistence) Prune(olderThan time.Duration) error {
	f.pruned = append(f.pruned, olderThan)
	return nil
}
func (f *fakePersistence) Save(snapshot models.MSnapshot) error {
	f.saved = append(f.saved, snapshot)
	return nil
}

type fakePublisher struct {
	published int
	updates   int
}

func (f *fakePublisher) PublishSnapshot(snapshot models.MSnapshot, updates []*models.MAssetMetrics) {
	f.published++
	f.updates += len(updates)
}

func testSchedulerConfig() *models.MConfig {
	return &models.MConfig{
		Storage: models.MStorageConfig{RetentionDays: 7},
		Upstream: models.MUpstreamConfig{
			RefreshIntervalMinutes: 30,
			BatchSize:              10,
		},
		Limits: models.MLimitsConfig{
			BreakerFailures:     5,
			BreakerCooldownSecs: 60,
		},
	}
}

func newTestScheduler(up *fakeUpstream, p *fakePersistence, pub *fakePublisher) (*Scheduler, *admission.CircuitBreaker) {
	log := logger.GetLogger()
	breaker := admission.NewCircuitBreaker(5, time.Minute, log)
	st := store.NewStateStore(log)
	s := NewScheduler(testSchedulerConfig(), log, up, st, p, breaker, pub)
	return s, breaker
}

func TestRunCycle_SuccessPersistsAndPublishes(t *testing.T) {
	up := &fakeUpstream{snapshot: models.MSnapshot{
		"BTC": {Symbol: "BTC", Holders: fp(1000)},
	}}
	p := &fakePersistence{}
	pub := &fakePublisher{}
	s, breaker := newTestScheduler(up, p, pub)

	s.runCycle(context.Background())

	if len(p.saved) != 1 {
		t.Fatalf("expected 1 save, got %d", len(p.saved))
	}
	if pub.published != 1 {
		t.Fatalf("expected 1 publish, got %d", pub.published)
	}
	if pub.updates != 1 {
		t.Errorf("expected the new asset in updates, got %d", pub.updates)
	}
	if breaker.State() != admission.StateClosed {
		t.Errorf("expected breaker closed, got %s", breaker.State())
	}
	if s.Store.Count() != 1 {
		t.Errorf("expected state store populated, got %d", s.Store.Count())
	}
}

func TestRunCycle_FailureKeepsPreviousSnapshot(t *testing.T) {
	up := &fakeUpstream{snapshot: models.MSnapshot{
		"BTC": {Symbol: "BTC", Holders: fp(1000)},
	}}
	p := &fakePersistence{}
	pub := &fakePublisher{}
	s, breaker := newTestScheduler(up, p, pub)

	s.runCycle(context.Background())

	// Upstream goes down; the served snapshot must not change.
	up.err = errors.New("upstream down")
	s.runCycle(context.Background())

	if s.Store.Count() != 1 {
		t.Error("failed cycle must keep the previous snapshot serving")
	}
	if len(p.saved) != 1 {
		t.Errorf("failed cycle must not persist, got %d saves", len(p.saved))
	}
	if pub.published != 1 {
		t.Errorf("failed cycle must not publish, got %d", pub.published)
	}

	// Failures accumulate toward the breaker threshold.
	for i := 0; i < 4; i++ {
		s.runCycle(context.Background())
	}
	if breaker.State() != admission.StateOpen {
		t.Errorf("expected breaker open after 5 failures, got %s", breaker.State())
	}

	// Open breaker short-circuits: no more upstream calls.
	calls := up.calls
	s.runCycle(context.Background())
	if up.calls != calls {
		t.Error("open breaker must prevent upstream calls")
	}
}

func TestRunCycle_RecordsCycleTimes(t *testing.T) {
	up := &fakeUpstream{snapshot: models.MSnapshot{}}
	s, _ := newTestScheduler(up, &fakePersistence{}, &fakePublisher{})

	s.runCycle(context.Background())
	s.runCycle(context.Background())

	if got := len(s.RecentCycleMillis()); got != 2 {
		t.Errorf("expected 2 recorded cycles, got %d", got)
	}
}

func TestRefreshNow_Coalesces(t *testing.T) {
	up := &fakeUpstream{snapshot: models.MSnapshot{}}
	s, _ := newTestScheduler(up, &fakePersistence{}, &fakePublisher{})

	// Multiple kicks before the loop drains them collapse into one.
	s.RefreshNow()
	s.RefreshNow()
	s.RefreshNow()

	if len(s.refreshNow) != 1 {
		t.Errorf("expected a single pending kick, got %d", len(s.refreshNow))
	}
}
