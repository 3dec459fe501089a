package sentinel

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSentinel(t *testing.T) *Sentinel {
	t.Helper()
	cfg := Config{ConfigPath: t.TempDir() + "/sentinel.conf"}
	logger := log.New(io.Discard, "", 0)
	return NewSentinel(cfg, "", logger)
}

func addr(t *testing.T, ip string, port int) Address {
	t.Helper()
	a, err := ResolveAddress(ip, port, false)
	require.NoError(t, err)
	return a
}

func TestNewSentinelMintsStableRunID(t *testing.T) {
	s := testSentinel(t)
	require.Len(t, s.MyID(), 40)

	again := testSentinel(t)
	require.NotEqual(t, s.MyID(), again.MyID())
}

func TestMonitorMasterRejectsDuplicateName(t *testing.T) {
	s := testSentinel(t)
	a := addr(t, "127.0.0.1", 6379)

	m, err := s.monitorMaster("mymaster", a, 2)
	require.NoError(t, err)
	require.Equal(t, "mymaster", m.Name)
	require.True(t, m.IsMaster())
	require.Equal(t, 2, m.Quorum)

	_, err = s.monitorMaster("mymaster", a, 2)
	require.Error(t, err)
}

func TestRemoveMasterReleasesLinksAndForgetsIt(t *testing.T) {
	s := testSentinel(t)
	a := addr(t, "127.0.0.1", 6379)
	m, err := s.monitorMaster("mymaster", a, 2)
	require.NoError(t, err)
	s.addReplica(m, addr(t, "127.0.0.1", 6380))

	require.NoError(t, s.removeMaster("mymaster"))
	require.Len(t, s.masters, 0)

	require.Error(t, s.removeMaster("mymaster"))
}

func TestAddReplicaIsIdempotentByAddress(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)

	r1 := s.addReplica(m, addr(t, "127.0.0.1", 6380))
	r2 := s.addReplica(m, addr(t, "127.0.0.1", 6380))
	require.Same(t, r1, r2)
	require.Len(t, m.Replicas, 1)
}

func TestResetMasterClearsTransientStateButKeepsIdentity(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	s.addReplica(m, addr(t, "127.0.0.1", 6380))
	m.FailoverState = FailoverSelectSlave
	m.Leader = "some-runid"
	m.LeaderEpoch = 5
	m.SDownSince = m.FailoverStartTime

	s.resetMaster(m, true)

	require.Equal(t, "mymaster", m.Name)
	require.Len(t, m.Replicas, 0)
	require.Equal(t, FailoverNone, m.FailoverState)
	require.Equal(t, "", m.Leader)
	require.Equal(t, int64(0), m.LeaderEpoch)
	require.True(t, m.SDownSince.IsZero())
}

func TestResetMasterWithAddressChangeKeepsOldMasterAsReplica(t *testing.T) {
	s := testSentinel(t)
	oldAddr := addr(t, "127.0.0.1", 6379)
	m, err := s.monitorMaster("mymaster", oldAddr, 2)
	require.NoError(t, err)
	existingReplicaAddr := addr(t, "127.0.0.1", 6381)
	s.addReplica(m, existingReplicaAddr)

	newAddr := addr(t, "127.0.0.1", 6380)
	s.resetMasterWithAddressChange(m, newAddr)

	require.True(t, m.Addr.Equal(newAddr))
	require.Contains(t, m.Replicas, oldAddr.String())
	require.Contains(t, m.Replicas, existingReplicaAddr.String())
}

func TestTotalVotersCountsSelfPlusPeers(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	require.Equal(t, 1, s.totalVoters(m))

	s.addOrUpdatePeerSentinel(m, "peer-1", addr(t, "10.0.0.1", 26379))
	s.addOrUpdatePeerSentinel(m, "peer-2", addr(t, "10.0.0.2", 26379))
	require.Equal(t, 3, s.totalVoters(m))
}

func TestAddOrUpdatePeerSentinelSharesLinkAcrossMasters(t *testing.T) {
	s := testSentinel(t)
	m1, err := s.monitorMaster("master1", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	m2, err := s.monitorMaster("master2", addr(t, "127.0.0.1", 6390), 2)
	require.NoError(t, err)

	peerAddr := addr(t, "10.0.0.1", 26379)
	p1 := s.addOrUpdatePeerSentinel(m1, "shared-runid", peerAddr)
	p2 := s.addOrUpdatePeerSentinel(m2, "shared-runid", peerAddr)

	require.Same(t, p1.Link, p2.Link)
	require.Equal(t, 2, p1.Link.refCount)
}

func TestInvalidateCollidingZeroesOutStaleClaimant(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	peerAddr := addr(t, "10.0.0.1", 26379)
	stale := s.addOrUpdatePeerSentinel(m, "old-runid", peerAddr)

	s.invalidateColliding(m, "new-runid", peerAddr)

	require.Equal(t, 0, stale.Addr.Port)
}

func TestBumpEpochIsMonotone(t *testing.T) {
	s := testSentinel(t)
	require.True(t, s.bumpEpoch(5))
	require.Equal(t, int64(5), s.currentEpoch)
	require.False(t, s.bumpEpoch(5))
	require.False(t, s.bumpEpoch(3))
	require.True(t, s.bumpEpoch(9))
}
