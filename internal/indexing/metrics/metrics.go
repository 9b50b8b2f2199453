package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksIndexed tracks total blocks applied to the mirror.
	BlocksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmirror_blocks_indexed_total",
			Help: "Total number of blocks applied to the mirror",
		},
	)

	// BlocksReverted tracks total blocks undone after reorgs.
	BlocksReverted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmirror_blocks_reverted_total",
			Help: "Total number of blocks reverted",
		},
	)

	// ReorgDepth observes the revert list length of each detected reorg.
	ReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainmirror_reorg_depth",
			Help:    "Number of blocks reverted per reorg",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// TransactionsClassified tracks receipts bucketed per contract kind.
	TransactionsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmirror_transactions_classified_total",
			Help: "Total transactions classified, by contract kind",
		},
		[]string{"contract"},
	)

	// CycleDuration observes the duration of each cycle kind.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainmirror_cycle_duration_seconds",
			Help:    "Duration of indexing and aggregate cycles",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cycle"},
	)

	// LockSkips tracks cycles skipped because the lock was held elsewhere.
	LockSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmirror_lock_skips_total",
			Help: "Cycles skipped due to lock contention",
		},
		[]string{"cycle"},
	)

	// ChainLatestBlock tracks the latest block height seen on chain.
	ChainLatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmirror_chain_latest_block",
			Help: "Latest block height reported by the chain",
		},
	)

	// IndexedLatestBlock tracks the most recently indexed block height.
	IndexedLatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainmirror_indexed_latest_block",
			Help: "Most recently indexed block height",
		},
	)

	// AggregateUsersUpdated tracks rows upserted by aggregate maintenance.
	AggregateUsersUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainmirror_aggregate_users_updated_total",
			Help: "Aggregate user rows recomputed and upserted",
		},
	)

	// RPCErrorsTotal tracks failed chain RPC calls.
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmirror_rpc_errors_total",
			Help: "Total number of chain RPC errors",
		},
		[]string{"method"},
	)

	// RPCLatency tracks chain RPC call latency.
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainmirror_rpc_latency_seconds",
			Help:    "Chain RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)
