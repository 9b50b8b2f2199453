// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the mirror.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report contains the full mirror health report.
type Report struct {
	Status           SystemStatus `json:"status"`
	ChainLatestBlock int64        `json:"chain_latest_block"`
	IndexedBlock     int64        `json:"indexed_block"`
	BlockLag         int64        `json:"block_lag"`
	Database         string       `json:"database"`
	Redis            string       `json:"redis"`
}
