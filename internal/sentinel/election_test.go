package sentinel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVoteIsOnePerEpochFirstComeFirstServed(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)

	leader, epoch := s.vote(m, 10, "candidate-a", time.Now())
	require.Equal(t, "candidate-a", leader)
	require.Equal(t, int64(10), epoch)

	// A second candidate in the same epoch does not overturn the
	// first vote (spec.md §4.5: one vote per epoch).
	leader, epoch = s.vote(m, 10, "candidate-b", time.Now())
	require.Equal(t, "candidate-a", leader)
	require.Equal(t, int64(10), epoch)

	// A higher epoch can record a new vote.
	leader, epoch = s.vote(m, 11, "candidate-b", time.Now())
	require.Equal(t, "candidate-b", leader)
	require.Equal(t, int64(11), epoch)
}

func TestVoteBumpsCurrentEpochMonotonically(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)

	s.vote(m, 3, "a", time.Now())
	require.Equal(t, int64(3), s.currentEpoch)

	s.vote(m, 1, "b", time.Now())
	require.Equal(t, int64(3), s.currentEpoch, "an older epoch must never roll currentEpoch backwards")
}

func TestTallyLeaderRequiresMajorityAndQuorum(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 3)
	require.NoError(t, err)
	s.currentEpoch = 1

	p1 := s.addOrUpdatePeerSentinel(m, "peer-1", addr(t, "10.0.0.1", 26379))
	p2 := s.addOrUpdatePeerSentinel(m, "peer-2", addr(t, "10.0.0.2", 26379))
	// 3 voters total (self + 2 peers); quorum is 3, so every voter
	// must agree for tallyLeader to declare a winner.
	p1.Leader = s.myID
	p1.PeerLeaderEpoch = 1
	p2.Leader = s.myID
	p2.PeerLeaderEpoch = 1

	winner, ok := s.tallyLeader(m)
	require.True(t, ok)
	require.Equal(t, s.myID, winner)
}

func TestTallyLeaderFailsWhenQuorumExceedsTheFleet(t *testing.T) {
	s := testSentinel(t)
	// Quorum set above the total number of voters: even a unanimous
	// vote can never satisfy it, so the election can never succeed
	// until more Sentinels join the fleet (spec.md §4.5's quorum gate).
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 5)
	require.NoError(t, err)
	s.currentEpoch = 1

	p1 := s.addOrUpdatePeerSentinel(m, "peer-1", addr(t, "10.0.0.1", 26379))
	p1.Leader = s.myID
	p1.PeerLeaderEpoch = 1

	_, ok := s.tallyLeader(m)
	require.False(t, ok)
}

func TestTallyLeaderIgnoresStaleEpochVotes(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	s.currentEpoch = 2

	stale := s.addOrUpdatePeerSentinel(m, "peer-1", addr(t, "10.0.0.1", 26379))
	stale.Leader = "candidate-a"
	stale.PeerLeaderEpoch = 1 // stale relative to currentEpoch, must be ignored

	current := s.addOrUpdatePeerSentinel(m, "peer-2", addr(t, "10.0.0.2", 26379))
	current.Leader = s.myID
	current.PeerLeaderEpoch = 2

	winner, ok := s.tallyLeader(m)
	// peer-1's stale vote is discarded; self plus peer-2's current
	// vote still reaches a majority of the 3 voters and meets quorum.
	require.True(t, ok)
	require.Equal(t, s.myID, winner)
}
