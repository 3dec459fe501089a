package sentinel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freshMasterForFailover(t *testing.T) (*Sentinel, *Instance) {
	t.Helper()
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	m.FailoverTimeoutMs = 180000
	return s, m
}

func eligibleReplica(t *testing.T, s *Sentinel, m *Instance, ip string, port int, priority int, offset int64, runID string, now time.Time) *Instance {
	t.Helper()
	r := s.addReplica(m, addr(t, ip, port))
	r.SlavePriority = priority
	r.ReplOffset = offset
	r.RunID = runID
	r.InfoRefreshTime = now
	r.Link.lastAvailTime = now
	r.Link.disconnected = false
	return r
}

func TestStartFailoverBumpsEpochAndEntersWaitStart(t *testing.T) {
	s, m := freshMasterForFailover(t)
	now := time.Now()
	before := s.currentEpoch

	s.startFailover(m, now)

	require.Equal(t, before+1, s.currentEpoch)
	require.Equal(t, s.currentEpoch, m.FailoverEpoch)
	require.True(t, m.Flags.Has(FlagFailoverInProgress))
	require.Equal(t, FailoverWaitStart, m.FailoverState)
}

func TestMaybeStartFailoverRequiresODownOrForce(t *testing.T) {
	s, m := freshMasterForFailover(t)
	now := time.Now()

	s.maybeStartFailover(m, now)
	require.False(t, m.Flags.Has(FlagFailoverInProgress), "neither O_DOWN nor forced, must not start")

	m.Flags |= FlagODown
	s.maybeStartFailover(m, now)
	require.True(t, m.Flags.Has(FlagFailoverInProgress))
}

func TestMaybeStartFailoverIsNoopWhileOneIsAlreadyRunning(t *testing.T) {
	s, m := freshMasterForFailover(t)
	now := time.Now()
	m.Flags |= FlagODown
	s.maybeStartFailover(m, now)
	epochAfterFirstStart := s.currentEpoch

	s.maybeStartFailover(m, now.Add(time.Second))
	require.Equal(t, epochAfterFirstStart, s.currentEpoch, "at-most-one-failover: a second start must not bump the epoch again")
}

func TestStateSelectSlavePicksHighestPriorityThenOffset(t *testing.T) {
	s, m := freshMasterForFailover(t)
	now := time.Now()
	low := eligibleReplica(t, s, m, "127.0.0.1", 6380, 100, 10, "runid-a", now)
	eligibleReplica(t, s, m, "127.0.0.1", 6381, 100, 20, "runid-b", now) // higher offset, same priority
	eligibleReplica(t, s, m, "127.0.0.1", 6382, 200, 999, "runid-c", now) // lower priority number wins... see below
	_ = low

	s.transition(m, FailoverSelectSlave, now)
	s.stateSelectSlave(m, now)

	require.NotNil(t, m.PromotedReplica)
	// Lowest SlavePriority value wins first (priority 100 beats 200),
	// and among equal priorities the highest replication offset wins.
	require.Equal(t, 100, m.PromotedReplica.SlavePriority)
	require.Equal(t, int64(20), m.PromotedReplica.ReplOffset)
	require.Equal(t, FailoverSendSlaveofNoOne, m.FailoverState)
}

func TestStateSelectSlaveExcludesPriorityZero(t *testing.T) {
	s, m := freshMasterForFailover(t)
	now := time.Now()
	eligibleReplica(t, s, m, "127.0.0.1", 6380, 0, 100, "runid-a", now) // priority 0: never promotable
	good := eligibleReplica(t, s, m, "127.0.0.1", 6381, 100, 5, "runid-b", now)

	s.stateSelectSlave(m, now)

	require.Same(t, good, m.PromotedReplica)
}

func TestStateSelectSlaveAbortsWhenNoCandidateQualifies(t *testing.T) {
	s, m := freshMasterForFailover(t)
	now := time.Now()
	m.Flags |= FlagFailoverInProgress
	m.FailoverState = FailoverSelectSlave
	stale := s.addReplica(m, addr(t, "127.0.0.1", 6380))
	stale.SlavePriority = 100
	stale.Link.disconnected = true // disconnected: never eligible

	s.stateSelectSlave(m, now)

	require.Nil(t, m.PromotedReplica)
	require.False(t, m.Flags.Has(FlagFailoverInProgress))
	require.Equal(t, FailoverNone, m.FailoverState)
}

func TestStateWaitPromotionAdvancesOnceReplicaReportsMaster(t *testing.T) {
	s, m := freshMasterForFailover(t)
	now := time.Now()
	r := s.addReplica(m, addr(t, "127.0.0.1", 6380))
	m.PromotedReplica = r
	m.FailoverState = FailoverWaitPromotion
	m.FailoverStateChangeTime = now
	m.Flags |= FlagFailoverInProgress
	m.FailoverEpoch = 7

	s.stateWaitPromotion(m, now)
	require.Equal(t, FailoverWaitPromotion, m.FailoverState, "must wait until the replica's INFO role flips")

	r.RoleReported = "master"
	s.stateWaitPromotion(m, now)
	require.Equal(t, FailoverReconfSlaves, m.FailoverState)
	require.Equal(t, int64(7), m.ConfigEpoch)
}

func TestStateUpdateConfigSwitchesMasterAddressAndEndsFailover(t *testing.T) {
	s, m := freshMasterForFailover(t)
	now := time.Now()
	oldAddr := m.Addr
	r := s.addReplica(m, addr(t, "127.0.0.1", 6380))
	m.PromotedReplica = r
	m.Flags |= FlagFailoverInProgress

	s.stateUpdateConfig(m, now)

	require.True(t, m.Addr.Equal(addr(t, "127.0.0.1", 6380)))
	require.False(t, m.Flags.Has(FlagFailoverInProgress))
	require.Equal(t, FailoverNone, m.FailoverState)
	require.Nil(t, m.PromotedReplica)
	require.Contains(t, m.Replicas, oldAddr.String(), "the demoted old master becomes a replica")
}
