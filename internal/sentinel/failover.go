package sentinel

import (
	"sort"
	"time"
)

// maybeStartFailover implements spec.md §4.6's trigger condition:
// O_DOWN, no failover already running, and the rate limit since the
// last attempt has elapsed (or this is a user-forced failover).
func (s *Sentinel) maybeStartFailover(m *Instance, now time.Time) {
	if m.Flags.Has(FlagFailoverInProgress) {
		return
	}
	forced := m.Flags.Has(FlagForceFailover)
	if !forced && !m.Flags.Has(FlagODown) {
		return
	}
	if !forced && !m.FailoverStartTime.IsZero() && now.Sub(m.FailoverStartTime) < 2*time.Duration(m.FailoverTimeoutMs)*time.Millisecond {
		return
	}
	s.startFailover(m, now)
}

func (s *Sentinel) startFailover(m *Instance, now time.Time) {
	s.currentEpoch++
	s.SaveConfig()
	m.FailoverEpoch = s.currentEpoch
	m.Flags |= FlagFailoverInProgress
	m.FailoverState = FailoverWaitStart
	m.FailoverStateChangeTime = now
	m.FailoverStartTime = now
	s.emitFor(m, EventTryFailover, "%s epoch %d", m.Name, s.currentEpoch)
}

// driveFailover advances m's state machine by exactly one step per
// tick, the way spec.md §4.6 describes each numbered state. TILT
// suspends this entirely (spec.md §4.9): the caller skips driveFailover
// while s.tilt is set.
func (s *Sentinel) driveFailover(m *Instance, now time.Time) {
	if !m.Flags.Has(FlagFailoverInProgress) {
		return
	}
	switch m.FailoverState {
	case FailoverWaitStart:
		s.stateWaitStart(m, now)
	case FailoverSelectSlave:
		s.stateSelectSlave(m, now)
	case FailoverSendSlaveofNoOne:
		s.stateSendSlaveofNoOne(m, now)
	case FailoverWaitPromotion:
		s.stateWaitPromotion(m, now)
	case FailoverReconfSlaves:
		s.stateReconfSlaves(m, now)
	case FailoverUpdateConfig:
		s.stateUpdateConfig(m, now)
	}
}

func (s *Sentinel) transition(m *Instance, next FailoverState, now time.Time) {
	m.FailoverState = next
	m.FailoverStateChangeTime = now
	s.emitFor(m, EventFailoverStatePrefix+next.String(), "")
}

func (s *Sentinel) abortFailover(m *Instance, reason string) {
	m.Flags &^= FlagFailoverInProgress | FlagForceFailover
	for _, r := range m.Replicas {
		r.Flags &^= FlagPromoted
	}
	m.FailoverState = FailoverNone
	m.PromotedReplica = nil
	s.emitFor(m, EventFailoverEnd, "aborted: %s", reason)
}

func (s *Sentinel) stateWaitStart(m *Instance, now time.Time) {
	leader, won := s.tallyLeader(m)
	isLeader := won && leader == s.myID
	if isLeader || m.Flags.Has(FlagForceFailover) {
		s.emitFor(m, EventElectedLeader, "%s epoch %d", s.myID, s.currentEpoch)
		s.transition(m, FailoverSelectSlave, now)
		return
	}
	limit := electionTimeout
	if fo := time.Duration(m.FailoverTimeoutMs) * time.Millisecond; fo < limit {
		limit = fo
	}
	if now.Sub(m.FailoverStartTime) > limit {
		s.abortFailover(m, "no leader elected before timeout")
	}
}

// stateSelectSlave implements spec.md §4.6 state 2's filter-then-sort
// replica selection.
func (s *Sentinel) stateSelectSlave(m *Instance, now time.Time) {
	var candidates []*Instance
	for _, r := range m.Replicas {
		if r.Flags.Has(FlagSDown) || r.Flags.Has(FlagODown) {
			continue
		}
		if r.Link.disconnected {
			continue
		}
		if !r.Link.lastAvailTime.IsZero() && now.Sub(r.Link.lastAvailTime) > 5*pingPeriod {
			continue
		}
		if r.SlavePriority == 0 {
			continue
		}
		var infoStaleLimit time.Duration
		if m.Flags.Has(FlagSDown) {
			infoStaleLimit = 5 * pingPeriod
		} else {
			infoStaleLimit = 3 * infoPeriod
		}
		if r.InfoRefreshTime.IsZero() || now.Sub(r.InfoRefreshTime) > infoStaleLimit {
			continue
		}
		if !r.MasterLinkDownTime.IsZero() {
			allowed := now.Sub(m.SDownSince) + time.Duration(10*m.DownAfterMs)*time.Millisecond
			if now.Sub(r.MasterLinkDownTime) > allowed {
				continue
			}
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		s.abortFailover(m, "no suitable replica")
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.SlavePriority != b.SlavePriority {
			return a.SlavePriority < b.SlavePriority
		}
		if a.ReplOffset != b.ReplOffset {
			return a.ReplOffset > b.ReplOffset
		}
		if a.RunID == "" {
			return false
		}
		if b.RunID == "" {
			return true
		}
		return a.RunID < b.RunID
	})
	m.PromotedReplica = candidates[0]
	s.transition(m, FailoverSendSlaveofNoOne, now)
}

func (s *Sentinel) stateSendSlaveofNoOne(m *Instance, now time.Time) {
	r := m.PromotedReplica
	if r == nil {
		s.abortFailover(m, "promoted replica lost")
		return
	}
	if now.Sub(m.FailoverStateChangeTime) > time.Duration(m.FailoverTimeoutMs)*time.Millisecond {
		s.abortFailover(m, "timed out promoting replica")
		return
	}
	if r.Link.cmd == nil || r.PromotionInFlight {
		return // retry next tick, subject to the outer timeout above
	}
	r.PromotionInFlight = true
	conn := r.Link.cmd
	rep := r
	master := m
	go func() {
		err := conn.transactionalSlaveofNoOne(time.Duration(master.FailoverTimeoutMs) * time.Millisecond)
		s.events <- linkEvent{link: rep.Link, inst: rep, kind: "slaveof-noone-done", err: err, at: time.Now()}
	}()
}

func (s *Sentinel) stateWaitPromotion(m *Instance, now time.Time) {
	r := m.PromotedReplica
	if r == nil {
		s.abortFailover(m, "promoted replica lost")
		return
	}
	if now.Sub(m.FailoverStateChangeTime) > time.Duration(m.FailoverTimeoutMs)*time.Millisecond {
		s.abortFailover(m, "promotion never observed")
		return
	}
	if r.RoleReported != "master" {
		return
	}
	m.ConfigEpoch = m.FailoverEpoch
	s.SaveConfig()
	s.transition(m, FailoverReconfSlaves, now)
	s.broadcastHello(m, now)
	s.scripts.enqueueClientReconfig(m, "leader", "start", m.Addr, r.Addr)
	s.emitFor(m, EventPromotedSlave, "%s", r.Addr)
}

func (s *Sentinel) stateUpdateConfig(m *Instance, now time.Time) {
	r := m.PromotedReplica
	if r == nil {
		s.abortFailover(m, "promoted replica lost")
		return
	}
	oldAddr := m.Addr
	newAddr := r.Addr
	s.resetMasterWithAddressChange(m, newAddr)
	m.Flags &^= FlagFailoverInProgress | FlagForceFailover
	m.FailoverState = FailoverNone
	m.PromotedReplica = nil
	s.SaveConfig()
	s.emitFor(m, EventSwitchMaster, "%s %s %d %s %d", m.Name, oldAddr.ResolvedIP, oldAddr.Port, newAddr.ResolvedIP, newAddr.Port)
	s.emitFor(m, EventFailoverEnd, "%s", m.Name)
}
