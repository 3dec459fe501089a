package sentinel

import (
	"context"
	"math/rand"
	"time"
)

// tickInterval is the nominal ≈10Hz cadence of spec.md §2; actual
// ticks are jittered ±10% so a fleet of Sentinels desynchronizes
// rather than probing in lockstep.
const tickInterval = 100 * time.Millisecond

// Run is the single actor goroutine that owns every mutation to the
// registry (spec.md §5): it drains async I/O results off s.events,
// drains user commands off s.cmds, and runs one full tick — Prober ->
// Down Detector -> (masters only) Election help -> Failover Driver —
// on a jittered timer. Nothing else in this package ever touches
// Instance/InstanceLink state outside of this loop.
func (s *Sentinel) Run(ctx context.Context) {
	timer := time.NewTimer(jitter(s.rng, tickInterval))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handleLinkEvent(ev)
		case c := <-s.cmds:
			s.handleCommand(c)
		case <-timer.C:
			s.tick(time.Now())
			timer.Reset(jitter(s.rng, tickInterval))
		}
	}
}

func jitter(r *rand.Rand, base time.Duration) time.Duration {
	delta := time.Duration(r.Int63n(int64(base) / 10)) // +-10%
	if r.Intn(2) == 0 {
		return base - delta
	}
	return base + delta
}

// tick is the body of spec.md §2's control flow.
func (s *Sentinel) tick(now time.Time) {
	s.updateTilt(now)

	for _, m := range s.masters {
		s.probeInstance(m, m, now)
		for _, r := range m.Replicas {
			s.probeInstance(m, r, now)
		}
		for _, p := range m.PeerSentinels {
			s.probeInstance(m, p, now)
		}
	}

	for _, m := range s.masters {
		s.updateSubjectiveDown(m, m, now)
		for _, r := range m.Replicas {
			s.updateSubjectiveDown(m, r, now)
		}
		s.clearStaleMasterDownVotes(m, now)
		s.updateObjectiveDown(m, now)
		if m.Flags.Has(FlagSDown) && (m.LastAskTime.IsZero() || now.Sub(m.LastAskTime) >= askPeriod) {
			s.askPeersAboutMaster(m, m.Flags.Has(FlagFailoverInProgress))
			m.LastAskTime = now
		}
	}

	if s.tilt {
		s.scripts.tick(now)
		return
	}

	for _, m := range s.masters {
		s.maybeStartFailover(m, now)
		s.driveFailover(m, now)
	}

	s.scripts.tick(now)
}

// handleLinkEvent applies the result of one asynchronous I/O
// operation to registry state (spec.md §5: "suspension points are
// exactly the event-loop yields").
func (s *Sentinel) handleLinkEvent(ev linkEvent) {
	now := ev.at
	switch ev.kind {
	case "cmd-connected":
		ev.link.cmd = ev.conn
		ev.link.disconnected = false
		ev.link.connectingCmd = false
		ev.link.cmdConnectedAt = now
		ev.link.lastPongTime = now
		ev.link.lastAvailTime = now
		ev.link.pendingCmds = max0(ev.link.pendingCmds - 1)
	case "cmd-failed":
		ev.link.connectingCmd = false
		ev.link.close("cmd")
		ev.link.disconnected = true
		ev.link.pendingCmds = max0(ev.link.pendingCmds - 1)
	case "pubsub-connected":
		ev.link.pubsub = ev.conn
		ev.link.connectingPubsub = false
		ev.link.pubsubConnectedAt = now
		ev.link.pubsubLastActivity = now
	case "pubsub-failed":
		ev.link.connectingPubsub = false
	case "pubsub-closed":
		ev.link.pubsub = nil
		ev.link.connectingPubsub = false
	case "pong":
		ev.link.pendingCmds = max0(ev.link.pendingCmds - 1)
		ev.link.lastPongTime = now
		switch ev.text {
		case "PONG", "LOADING", "MASTERDOWN":
			ev.link.lastAvailTime = now
			ev.link.actPingTime = time.Time{}
		}
	case "cmd-failed-pending":
		ev.link.pendingCmds = max0(ev.link.pendingCmds - 1)
	case "info-reply":
		ev.link.pendingCmds = max0(ev.link.pendingCmds - 1)
		if ev.inst != nil {
			m := ownerMaster(ev.inst)
			if m != nil {
				s.applyInfoReply(m, ev.inst, ev.text, now)
			}
		}
	case "hello":
		ev.link.pubsubLastActivity = now
		if ev.inst != nil {
			m := ownerMaster(ev.inst)
			if m != nil {
				s.handleHello(m, ev.text, now)
			}
		}
	case "hello-sent":
		ev.link.pendingCmds = max0(ev.link.pendingCmds - 1)
	case "is-master-down-reply":
		if ev.inst != nil {
			if ev.voteDown {
				ev.inst.Flags |= FlagMasterDown
			} else {
				ev.inst.Flags &^= FlagMasterDown
			}
			ev.inst.LastMasterDownReplyTime = now
			if ev.voteRunID != "*" && ev.voteRunID != "" {
				ev.inst.Leader = ev.voteRunID
				ev.inst.PeerLeaderEpoch = ev.voteEpoch
			}
		}
	case "slaveof-noone-done":
		if ev.inst != nil {
			ev.inst.PromotionInFlight = false
			m := ev.inst.Master
			if m != nil && m.FailoverState == FailoverSendSlaveofNoOne {
				if ev.err == nil {
					ev.inst.Flags |= FlagPromoted
					s.transition(m, FailoverWaitPromotion, now)
				}
			}
		}
	case "reconf-slaveof-done":
		// outcome observed via the replica's next INFO (applyReconfigProgress);
		// nothing to do here beyond having dispatched the command.
	}
}

func ownerMaster(inst *Instance) *Instance {
	if inst.IsMaster() {
		return inst
	}
	return inst.Master
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
