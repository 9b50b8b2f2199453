package health

import (
	"context"
	"sync"
	"time"
)

// Lag thresholds for status evaluation, in blocks.
const (
	degradedLag = 10
	criticalLag = 100
)

// CheckpointReader reads the block checkpoints published by the index
// cycle.
type CheckpointReader interface {
	LatestBlockNumber(ctx context.Context) (int64, error)
	IndexedBlockNumber(ctx context.Context) (int64, error)
}

// Pinger checks connectivity of a backing service.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from the checkpoint surface and the
// backing services.
type Monitor struct {
	checkpoints CheckpointReader
	db          Pinger
	redis       Pinger

	lastCheck  time.Time
	lastReport Report
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(checkpoints CheckpointReader, db, redis Pinger) *Monitor {
	return &Monitor{checkpoints: checkpoints, db: db, redis: redis}
}

// CheckHealth builds a health report. Results are cached for 10 seconds
// so probes cannot hammer the backing services.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.Status != "" {
		return m.lastReport
	}

	report := Report{Status: StatusHealthy, Database: "ok", Redis: "ok"}

	if err := m.db.Health(ctx); err != nil {
		report.Database = err.Error()
		report.Status = StatusCritical
	}
	if err := m.redis.Health(ctx); err != nil {
		report.Redis = err.Error()
		if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}

	latest, err := m.checkpoints.LatestBlockNumber(ctx)
	if err == nil {
		report.ChainLatestBlock = latest
	}
	indexed, err := m.checkpoints.IndexedBlockNumber(ctx)
	if err == nil {
		report.IndexedBlock = indexed
	}
	if lag := report.ChainLatestBlock - report.IndexedBlock; lag > 0 {
		report.BlockLag = lag
	}

	if report.Status == StatusHealthy {
		switch {
		case report.BlockLag > criticalLag:
			report.Status = StatusCritical
		case report.BlockLag > degradedLag:
			report.Status = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
