package sentinel

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// probeInstance is the per-tick, per-instance body of the Periodic
// Prober (spec.md §4.2): ensures the link, then issues INFO, PING,
// and the Hello PUBLISH as each one's own schedule allows. It never
// blocks: every command is fired on the link's cmd connection and its
// reply arrives later as a linkEvent, except PUBLISH whose reply
// (subscriber count) nobody needs to act on.
func (s *Sentinel) probeInstance(m *Instance, inst *Instance, now time.Time) {
	if inst.Link.idleOrBroken(now, inst.DownAfterMs, publishPeriod) {
		inst.Link.close("both")
	}

	needPubsub := inst.IsMaster() || inst.IsSlave()
	inst.Link.ensureConnected(inst, inst.Addr, s.myID, m.AuthUser, m.AuthPass, needPubsub, helloChannel, s.events)

	if inst.Link.pendingCmds >= maxPendingCommandsPerLink*inst.Link.refCount {
		return // back-pressure: spec.md §4.2
	}
	if inst.Link.cmd == nil {
		return
	}

	if !inst.IsPeerSentinel() {
		s.maybeSendInfo(m, inst, now)
	}
	s.maybeSendPing(inst, now)
	s.maybeSendHello(m, inst, now)
}

func (s *Sentinel) infoPeriodFor(m *Instance, inst *Instance) time.Duration {
	if inst.IsSlave() {
		if m.Flags.Has(FlagODown) || m.FailoverState != FailoverNone || inst.MasterLinkStatus == "down" {
			return infoPeriodFast
		}
	}
	return infoPeriod
}

func (s *Sentinel) maybeSendInfo(m *Instance, inst *Instance, now time.Time) {
	period := s.infoPeriodFor(m, inst)
	if !inst.InfoRefreshTime.IsZero() && now.Sub(inst.InfoRefreshTime) <= period {
		return
	}
	inst.Link.pendingCmds++
	go s.sendAndReport(inst, "info-reply", "INFO")
}

func (s *Sentinel) maybeSendPing(inst *Instance, now time.Time) {
	downAfter := inst.DownAfterMs
	threshold := pingPeriod
	if time.Duration(downAfter)*time.Millisecond < threshold {
		threshold = time.Duration(downAfter) * time.Millisecond
	}
	if !inst.Link.lastPongTime.IsZero() && now.Sub(inst.Link.lastPongTime) <= threshold {
		return
	}
	if !inst.Link.lastPingTime.IsZero() && now.Sub(inst.Link.lastPingTime) <= threshold/2 {
		return
	}
	if inst.Link.actPingTime.IsZero() {
		inst.Link.actPingTime = now
	}
	inst.Link.lastPingTime = now
	inst.Link.pendingCmds++
	go s.sendAndReport(inst, "pong", "PING")
}

func (s *Sentinel) maybeSendHello(m *Instance, inst *Instance, now time.Time) {
	if v, ok := inst.Link.lastHelloSentTime(); ok && now.Sub(v) <= publishPeriod {
		return
	}
	payload := s.helloPayload(m)
	inst.Link.markHelloSent(now)
	inst.Link.pendingCmds++
	conn := inst.Link.cmd
	go func() {
		conn.sendOnly(dialTimeout, "PUBLISH", helloChannel, payload)
		s.events <- linkEvent{link: inst.Link, kind: "hello-sent", at: time.Now()}
	}()
}

// broadcastHello forces an immediate Hello PUBLISH to every known
// instance of m (itself, its replicas, and peer Sentinels watching
// it), bypassing the publishPeriod throttle. Used once on the
// WAIT_PROMOTION -> RECONF_SLAVES transition so the fleet learns the
// new master without waiting out the next periodic cadence (spec.md
// §4.6 state 4).
func (s *Sentinel) broadcastHello(m *Instance, now time.Time) {
	s.forceSendHello(m, m, now)
	for _, r := range m.Replicas {
		s.forceSendHello(m, r, now)
	}
	for _, p := range m.PeerSentinels {
		s.forceSendHello(m, p, now)
	}
}

func (s *Sentinel) forceSendHello(m *Instance, inst *Instance, now time.Time) {
	if inst.Link.cmd == nil {
		return
	}
	inst.Link.lastHelloSent = time.Time{}
	s.maybeSendHello(m, inst, now)
}

func (s *Sentinel) helloPayload(m *Instance) string {
	ip := s.announceIP
	port := s.announcePort
	return fmt.Sprintf("%s,%d,%s,%d,%s,%s,%d,%d",
		ip, port, s.myID, s.currentEpoch,
		m.Name, m.Addr.ResolvedIP, m.Addr.Port, m.ConfigEpoch)
}

// sendAndReport issues a blocking command on a helper goroutine and
// reports the outcome back to the actor, keeping all socket I/O off
// the actor thread (spec.md §5).
func (s *Sentinel) sendAndReport(inst *Instance, kind string, args ...string) {
	conn := inst.Link.cmd
	if conn == nil {
		return
	}
	v, err := conn.do(dialTimeout, args...)
	if err != nil {
		s.events <- linkEvent{link: inst.Link, inst: inst, kind: "cmd-failed", err: err, at: time.Now()}
		return
	}
	if kind == "pong" {
		s.events <- linkEvent{link: inst.Link, inst: inst, kind: "pong", text: v.Str, at: time.Now()}
		return
	}
	s.events <- linkEvent{link: inst.Link, inst: inst, kind: "info-reply", text: v.Str, at: time.Now()}
}

// applyInfoReply implements spec.md §4.2 "INFO parsing": line
// oriented extraction of run_id, role, replica advertisements (for
// masters), and master-link fields (for replicas).
func (s *Sentinel) applyInfoReply(m *Instance, inst *Instance, body string, now time.Time) {
	inst.InfoRefreshTime = now
	inst.Link.lastAvailTime = now

	var runID, role string
	var masterHost string
	var masterPort int
	var masterLinkStatus string
	var slavePriority int = 100
	var replOffset int64
	var linkDownSeconds int64 = -1
	replicaAnnounced := true

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch {
		case key == "run_id":
			runID = val
		case key == "role":
			role = val
		case key == "master_host":
			masterHost = val
		case key == "master_port":
			masterPort, _ = strconv.Atoi(val)
		case key == "master_link_status":
			masterLinkStatus = val
		case key == "master_link_down_since_seconds":
			linkDownSeconds, _ = strconv.ParseInt(val, 10, 64)
		case key == "slave_priority":
			slavePriority, _ = strconv.Atoi(val)
		case key == "slave_repl_offset":
			replOffset, _ = strconv.ParseInt(val, 10, 64)
		case key == "replica_announced":
			replicaAnnounced = val != "0"
		case strings.HasPrefix(key, "slave") && inst.IsMaster():
			s.applyReplicaAdvertisement(m, val)
		}
	}

	if runID != "" {
		if inst.RunID != "" && inst.RunID != runID {
			s.emitFor(m, EventReboot, "%s %s restarted, runid changed %s -> %s", roleLabel(inst), inst.Addr, inst.RunID, runID)
		}
		inst.RunID = runID
	}
	if role != "" && role != inst.RoleReported {
		inst.RoleReported = role
		inst.RoleReportedTime = now
	}

	if inst.IsSlave() {
		inst.MasterHost = masterHost
		inst.MasterPort = masterPort
		inst.MasterLinkStatus = masterLinkStatus
		inst.SlavePriority = slavePriority
		inst.ReplOffset = replOffset
		inst.ReplicaAnnounced = replicaAnnounced
		if masterLinkStatus == "down" && inst.MasterLinkDownTime.IsZero() {
			inst.MasterLinkDownTime = now
		} else if masterLinkStatus == "up" {
			inst.MasterLinkDownTime = time.Time{}
		}
		_ = linkDownSeconds
	}

	s.applyReconfigProgress(m, inst, now)
	s.correctReplicationDrift(m, inst, now)
}

func roleLabel(inst *Instance) string {
	if inst.IsMaster() {
		return "master"
	}
	if inst.IsSlave() {
		return "slave"
	}
	return "sentinel"
}

// applyReplicaAdvertisement auto-creates a replica record the first
// time a master's INFO mentions it (spec.md §4.2, §3 Lifecycle).
func (s *Sentinel) applyReplicaAdvertisement(m *Instance, fields string) {
	var ip string
	var port int
	for _, kv := range strings.Split(fields, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "ip":
			ip = parts[1]
		case "port":
			port, _ = strconv.Atoi(parts[1])
		}
	}
	if ip == "" || port == 0 {
		return
	}
	addr, err := ResolveAddress(ip, port, s.resolveHostnames)
	if err != nil {
		return
	}
	s.addReplica(m, addr)
}
