package health

import (
	"context"
	"errors"
	"testing"
)

type fakeCheckpoints struct {
	latest  int64
	indexed int64
}

func (f *fakeCheckpoints) LatestBlockNumber(ctx context.Context) (int64, error)  { return f.latest, nil }
func (f *fakeCheckpoints) IndexedBlockNumber(ctx context.Context) (int64, error) { return f.indexed, nil }

type fakePinger struct {
	err   error
	calls int
}

func (f *fakePinger) Health(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestCheckHealthReportsLag(t *testing.T) {
	m := NewMonitor(&fakeCheckpoints{latest: 105, indexed: 100}, &fakePinger{}, &fakePinger{})

	report := m.CheckHealth(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want %s", report.Status, StatusHealthy)
	}
	if report.BlockLag != 5 {
		t.Errorf("lag = %d, want 5", report.BlockLag)
	}
	if report.Database != "ok" || report.Redis != "ok" {
		t.Errorf("backing services = %q/%q, want ok/ok", report.Database, report.Redis)
	}
}

func TestCheckHealthDegradesOnModerateLag(t *testing.T) {
	m := NewMonitor(&fakeCheckpoints{latest: 150, indexed: 100}, &fakePinger{}, &fakePinger{})

	if report := m.CheckHealth(context.Background()); report.Status != StatusDegraded {
		t.Errorf("status = %s, want %s", report.Status, StatusDegraded)
	}
}

func TestCheckHealthCriticalOnDeepLag(t *testing.T) {
	m := NewMonitor(&fakeCheckpoints{latest: 500, indexed: 100}, &fakePinger{}, &fakePinger{})

	if report := m.CheckHealth(context.Background()); report.Status != StatusCritical {
		t.Errorf("status = %s, want %s", report.Status, StatusCritical)
	}
}

func TestCheckHealthCriticalOnDatabaseFailure(t *testing.T) {
	db := &fakePinger{err: errors.New("connection refused")}
	m := NewMonitor(&fakeCheckpoints{}, db, &fakePinger{})

	report := m.CheckHealth(context.Background())
	if report.Status != StatusCritical {
		t.Errorf("status = %s, want %s", report.Status, StatusCritical)
	}
	if report.Database != "connection refused" {
		t.Errorf("database = %q, want the ping error", report.Database)
	}
}

func TestCheckHealthDegradedOnRedisFailure(t *testing.T) {
	redis := &fakePinger{err: errors.New("connection refused")}
	m := NewMonitor(&fakeCheckpoints{}, &fakePinger{}, redis)

	if report := m.CheckHealth(context.Background()); report.Status != StatusDegraded {
		t.Errorf("status = %s, want %s", report.Status, StatusDegraded)
	}
}

func TestCheckHealthCachesReport(t *testing.T) {
	db := &fakePinger{}
	m := NewMonitor(&fakeCheckpoints{}, db, &fakePinger{})

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if db.calls != 1 {
		t.Errorf("db pinged %d times, want 1 (second report served from cache)", db.calls)
	}
}
