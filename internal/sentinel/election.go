package sentinel

import (
	"math/rand"
	"time"
)

// vote implements spec.md §4.5's per-(voter, master) bookkeeping.
// Called both for a local self-candidacy and for a vote request
// arriving from a peer over SENTINEL IS-MASTER-DOWN-BY-ADDR (when its
// runid argument is not "*").
func (s *Sentinel) vote(m *Instance, reqEpoch int64, reqRunID string, now time.Time) (string, int64) {
	if s.bumpEpoch(reqEpoch) {
		s.SaveConfig()
		s.emitGlobal(EventNewEpoch, "%d", s.currentEpoch)
	}
	if m.LeaderEpoch < reqEpoch {
		m.Leader = reqRunID
		m.LeaderEpoch = s.currentEpoch
		s.SaveConfig()
		s.emitFor(m, EventVoteForLeader, "%s %d", reqRunID, m.LeaderEpoch)
		if reqRunID != s.myID {
			m.FailoverStartTime = now.Add(randDuration(s.rng, maxDesync))
		}
	}
	return m.Leader, m.LeaderEpoch
}

// tallyLeader implements spec.md §4.5's winner computation: a
// plurality among peer votes observed this epoch, this Sentinel
// casting its own ballot for the plurality candidate (or itself if
// there is none), and a win requiring both majority and quorum.
func (s *Sentinel) tallyLeader(m *Instance) (string, bool) {
	counts := make(map[string]int)
	for _, p := range m.PeerSentinels {
		if p.Leader != "" && p.PeerLeaderEpoch == s.currentEpoch {
			counts[p.Leader]++
		}
	}
	plurality := ""
	best := 0
	for cand, n := range counts {
		if n > best {
			best = n
			plurality = cand
		}
	}
	selfVote := plurality
	if selfVote == "" {
		selfVote = s.myID
	}
	s.vote(m, s.currentEpoch, selfVote, time.Now())
	counts[selfVote]++

	voters := s.totalVoters(m)
	winner := ""
	winnerVotes := 0
	for cand, n := range counts {
		if n > winnerVotes {
			winner = cand
			winnerVotes = n
		}
	}
	if winner == "" {
		return "", false
	}
	if winnerVotes > voters/2 && winnerVotes >= m.Quorum {
		return winner, true
	}
	return "", false
}

func randDuration(r *rand.Rand, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(r.Int63n(int64(max)))
}
