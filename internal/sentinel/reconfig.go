package sentinel

import "time"

// stateReconfSlaves implements spec.md §4.6 state 5: parallel-bounded
// dispatch of SLAVEOF <promoted replica> to every other replica, with
// per-replica SENT/INPROG/DONE tracking and a straggler timeout.
func (s *Sentinel) stateReconfSlaves(m *Instance, now time.Time) {
	promoted := m.PromotedReplica
	if promoted == nil {
		s.abortFailover(m, "promoted replica lost")
		return
	}

	inFlight := 0
	allDone := true
	for _, r := range m.Replicas {
		if r == promoted || r.Flags.Has(FlagReconfDone) {
			continue
		}
		if r.Flags.Has(FlagReconfSent) || r.Flags.Has(FlagReconfInprog) {
			inFlight++
			if !r.SlaveReconfSentTime.IsZero() && now.Sub(r.SlaveReconfSentTime) > slaveReconfTimeout {
				r.Flags &^= FlagReconfSent | FlagReconfInprog
				r.Flags |= FlagReconfDone
				continue
			}
			allDone = false
			continue
		}
		if r.Flags.Has(FlagSDown) {
			continue // excluded from completion accounting per spec.md §4.6 state 5
		}
		allDone = false
	}

	if allDone {
		s.transition(m, FailoverUpdateConfig, now)
		return
	}

	if now.Sub(m.FailoverStateChangeTime) > time.Duration(m.FailoverTimeoutMs)*time.Millisecond {
		for _, r := range m.Replicas {
			if r == promoted || r.Flags.Has(FlagReconfDone) || r.Flags.Has(FlagSDown) {
				continue
			}
			s.sendReconfigSlaveof(m, r, promoted, now)
		}
		s.transition(m, FailoverUpdateConfig, now)
		return
	}

	for _, r := range m.Replicas {
		if inFlight >= m.ParallelSyncs {
			break
		}
		if r == promoted || r.Flags.Has(FlagReconfSent) || r.Flags.Has(FlagReconfInprog) || r.Flags.Has(FlagReconfDone) || r.Flags.Has(FlagSDown) {
			continue
		}
		s.sendReconfigSlaveof(m, r, promoted, now)
		inFlight++
	}
}

func (s *Sentinel) sendReconfigSlaveof(m *Instance, r *Instance, target *Instance, now time.Time) {
	if r.Link.cmd == nil {
		return
	}
	r.Flags |= FlagReconfSent
	r.SlaveReconfSentTime = now
	s.emitFor(m, EventSlaveReconfSent, "%s", r.Addr)
	conn := r.Link.cmd
	rep := r
	host, port := target.Addr.ResolvedIP, target.Addr.Port
	timeout := time.Duration(m.FailoverTimeoutMs) * time.Millisecond
	go func() {
		err := conn.transactionalSlaveof(timeout, host, port)
		s.events <- linkEvent{link: rep.Link, inst: rep, kind: "reconf-slaveof-done", err: err, at: time.Now()}
	}()
}

// applyReconfigProgress watches a replica's INFO for evidence that a
// dispatched SLAVEOF has taken effect (spec.md §4.6 state 5's
// SENT->INPROG->DONE transitions), called from applyInfoReply.
func (s *Sentinel) applyReconfigProgress(m *Instance, r *Instance, now time.Time) {
	if !r.IsSlave() || m.PromotedReplica == nil {
		return
	}
	if !r.Flags.Has(FlagReconfSent) && !r.Flags.Has(FlagReconfInprog) {
		return
	}
	target := m.PromotedReplica
	if r.Flags.Has(FlagReconfSent) && r.MasterHost == target.Addr.ResolvedIP && r.MasterPort == target.Addr.Port {
		r.Flags &^= FlagReconfSent
		r.Flags |= FlagReconfInprog
		s.emitFor(m, EventSlaveReconfInprog, "%s", r.Addr)
	}
	if r.Flags.Has(FlagReconfInprog) && r.MasterLinkStatus == "up" {
		r.Flags &^= FlagReconfInprog
		r.Flags |= FlagReconfDone
		s.emitFor(m, EventSlaveReconfDone, "%s", r.Addr)
	}
}

// correctReplicationDrift implements spec.md §4.7's two independent
// drift-correction rules, run on every INFO reply; it does nothing
// while a failover of m is in progress.
func (s *Sentinel) correctReplicationDrift(m *Instance, inst *Instance, now time.Time) {
	if m.Flags.Has(FlagFailoverInProgress) {
		return
	}
	if inst.IsSlave() {
		if inst.MasterHost == "" || inst.MasterHost == m.Addr.ResolvedIP && inst.MasterPort == m.Addr.Port {
			return
		}
		up := time.Since(inst.Link.cmdConnectedAt) > time.Duration(m.FailoverTimeoutMs)*time.Millisecond
		if up && inst.Link.cmd != nil {
			s.emitFor(m, EventFixSlaveConfig, "%s -> %s", inst.Addr, m.Addr)
			s.fireSlaveof(inst, m.Addr, time.Duration(m.FailoverTimeoutMs)*time.Millisecond)
		}
		return
	}
	if inst.IsMaster() && inst.RoleReported == "slave" {
		if !inst.RoleReportedTime.IsZero() && now.Sub(inst.RoleReportedTime) > 4*publishPeriod {
			s.emitFor(m, EventConvertToSlave, "%s -> %s", inst.Addr, m.Addr)
			s.fireSlaveof(inst, m.Addr, time.Duration(m.FailoverTimeoutMs)*time.Millisecond)
		}
	}
}

// fireSlaveof issues a best-effort transactional SLAVEOF outside of
// failover bookkeeping (no RECONF_* flags), used by the independent
// drift-correction rules of spec.md §4.7.
func (s *Sentinel) fireSlaveof(inst *Instance, target Address, timeout time.Duration) {
	if inst.Link.cmd == nil {
		return
	}
	conn := inst.Link.cmd
	host, port := target.ResolvedIP, target.Port
	go func() {
		conn.transactionalSlaveof(timeout, host, port)
	}()
}
