package sentinel

import "time"

// Fixed protocol timings named in spec.md §4. These are not
// user-configurable; only down_after_ms, failover_timeout, and
// parallel_syncs are per-master knobs (set via SENTINEL SET).
const (
	minLinkReconnectPeriodName = "SENTINEL_MIN_LINK_RECONNECT_PERIOD" // documents the 15s constant in link.go

	infoPeriod          = 10 * time.Second
	infoPeriodFast       = 1 * time.Second // when master O_DOWN, failover in progress, or link down
	pingPeriod          = 1 * time.Second
	publishPeriod       = 2 * time.Second
	askPeriod           = 1 * time.Second
	maxDesync           = 500 * time.Millisecond
	electionTimeout     = 10 * time.Second
	slaveReconfTimeout  = 10 * time.Second
	tiltTrigger         = 2 * time.Second
	tiltPeriod          = 30 * pingPeriod
	maxPendingCommandsPerLink = 100
)

// Per-master defaults applied by monitorMaster until overridden by
// SENTINEL SET or a persisted config directive (spec.md §6).
const (
	defaultDownAfterMs       int64 = 30000
	defaultFailoverTimeoutMs int64 = 180000
	defaultParallelSyncs           = 1
)
