package sentinel

import (
	"strconv"
	"time"
)

// askPeriod cadence down-detection re-asks peers at (spec.md §4.4).
// updateSubjectiveDown implements spec.md §4.4's S_DOWN predicate for
// one instance, called every tick after the prober has had a chance
// to update link/info state.
func (s *Sentinel) updateSubjectiveDown(m *Instance, inst *Instance, now time.Time) {
	wasDown := inst.Flags.Has(FlagSDown)

	unresponsiveSince := time.Time{}
	if !inst.Link.actPingTime.IsZero() {
		unresponsiveSince = inst.Link.actPingTime
	} else if inst.Link.disconnected && !inst.Link.lastAvailTime.IsZero() {
		unresponsiveSince = inst.Link.lastAvailTime
	}

	down := false
	if !unresponsiveSince.IsZero() && now.Sub(unresponsiveSince) > time.Duration(inst.DownAfterMs)*time.Millisecond {
		down = true
	}
	if inst.IsMaster() && inst.RoleReported == "slave" && !inst.RoleReportedTime.IsZero() {
		threshold := time.Duration(inst.DownAfterMs)*time.Millisecond + 2*infoPeriod
		if now.Sub(inst.RoleReportedTime) > threshold {
			down = true
		}
	}

	if down && !wasDown {
		inst.Flags |= FlagSDown
		inst.SDownSince = now
		s.emitFor(m, EventSDownEnter, "%s %s", roleLabel(inst), inst.Addr)
		if inst.IsMaster() {
			s.askPeersAboutMaster(m, m.Flags.Has(FlagFailoverInProgress))
			m.LastAskTime = now
		}
	} else if !down && wasDown {
		inst.Flags &^= FlagSDown
		s.emitFor(m, EventSDownExit, "%s %s", roleLabel(inst), inst.Addr)
	}
}

// askPeersAboutMaster sends `SENTINEL IS-MASTER-DOWN-BY-ADDR` to every
// peer Sentinel watching m, either as a mere state query (seekVote
// false, runid "*") or, when this Sentinel is itself seeking a vote
// at the current epoch, with its own myid (spec.md §4.4).
func (s *Sentinel) askPeersAboutMaster(m *Instance, seekVote bool) {
	runID := "*"
	if seekVote {
		runID = s.myID
	}
	for _, p := range m.PeerSentinels {
		if p.Link.cmd == nil {
			continue
		}
		conn := p.Link.cmd
		addr := m.Addr
		epoch := s.currentEpoch
		peer := p
		go func() {
			v, err := conn.do(dialTimeout, "SENTINEL", "IS-MASTER-DOWN-BY-ADDR", addr.ResolvedIP, strconv.Itoa(addr.Port), strconv.FormatInt(epoch, 10), runID)
			if err != nil || v.Kind != '*' || len(v.Array) != 3 {
				return
			}
			s.events <- linkEvent{
				link:      peer.Link,
				inst:      peer,
				kind:      "is-master-down-reply",
				voteDown:  v.Array[0].Int != 0,
				voteRunID: v.Array[1].Str,
				voteEpoch: v.Array[2].Int,
				at:        time.Now(),
			}
		}()
	}
}

// updateObjectiveDown implements spec.md §4.4's O_DOWN rule: quorum
// concurring MASTER_DOWN votes, including this Sentinel's own S_DOWN
// belief.
func (s *Sentinel) updateObjectiveDown(m *Instance, now time.Time) {
	if !m.Flags.Has(FlagSDown) {
		if m.Flags.Has(FlagODown) {
			m.Flags &^= FlagODown
			s.emitFor(m, EventODownExit, "%s", m.Addr)
		}
		return
	}
	votes := 1
	for _, p := range m.PeerSentinels {
		if p.Flags.Has(FlagMasterDown) {
			votes++
		}
	}
	down := votes >= m.Quorum
	was := m.Flags.Has(FlagODown)
	if down && !was {
		m.Flags |= FlagODown
		s.emitFor(m, EventODownEnter, "%s #votes %d/%d", m.Addr, votes, m.Quorum)
	} else if !down && was {
		m.Flags &^= FlagODown
		s.emitFor(m, EventODownExit, "%s", m.Addr)
	}
}

// clearStaleMasterDownVotes drops MASTER_DOWN flags whose last reply
// is older than 5×askPeriod (spec.md §4.4).
func (s *Sentinel) clearStaleMasterDownVotes(m *Instance, now time.Time) {
	for _, p := range m.PeerSentinels {
		if p.Flags.Has(FlagMasterDown) && !p.LastMasterDownReplyTime.IsZero() && now.Sub(p.LastMasterDownReplyTime) > 5*askPeriod {
			p.Flags &^= FlagMasterDown
		}
	}
}
