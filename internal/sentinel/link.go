package sentinel

import (
	"fmt"
	"time"
)

const minLinkReconnectPeriod = 15 * time.Second

// linkEvent is how the asynchronous dial/read goroutines hand results
// back to the single actor goroutine that owns all registry state
// (spec.md §5: "no mutexes are needed on registry state... suspension
// points are exactly the event-loop yields"). Every field the actor
// subsequently mutates on Instance/InstanceLink happens only after
// draining one of these off the event channel.
type linkEvent struct {
	link *InstanceLink
	inst *Instance // the specific Instance this op was issued for; nil for link-lifecycle events shared across owners
	kind string    // cmd-connected, cmd-failed, cmd-failed-pending, pong, pubsub-connected, pubsub-failed, pubsub-closed, hello, hello-sent, info-reply, is-master-down-reply, slaveof-noone-done, reconf-slaveof-done
	err  error
	text string // hello payload, PING reply kind ("PONG"/"LOADING"/"MASTERDOWN"/other), or INFO body
	at   time.Time
	conn *peerConn // cmd-connected/pubsub-connected payload; assigned to link.cmd/link.pubsub only by the actor

	// is-master-down-reply payload (spec.md §4.4, §4.5):
	// the three-element array reply decoded inline rather than
	// re-serialized, since linkEvent already crosses the goroutine
	// boundary the actor reads from.
	voteDown   bool
	voteRunID  string
	voteEpoch  int64
}

// InstanceLink is the pair of long-lived async connections to one
// peer (spec.md §4.1), shared by reference count among every
// peer-Sentinel record that names the same physical Sentinel process.
type InstanceLink struct {
	refCount     int
	disconnected bool
	pendingCmds  int

	cmd    *peerConn
	pubsub *peerConn

	connectingCmd    bool
	connectingPubsub bool

	cmdConnectedAt    time.Time
	pubsubConnectedAt time.Time

	actPingTime        time.Time // oldest unanswered ping; zero if none outstanding
	lastPingTime       time.Time
	lastPongTime       time.Time
	lastAvailTime      time.Time
	pubsubLastActivity time.Time
	lastReconnTime     time.Time
	lastHelloSent      time.Time
}

// lastHelloSentTime reports when the last Hello PUBLISH was issued on
// this link, if any (spec.md §4.2 publish cadence).
func (l *InstanceLink) lastHelloSentTime() (time.Time, bool) {
	return l.lastHelloSent, !l.lastHelloSent.IsZero()
}

func (l *InstanceLink) markHelloSent(at time.Time) {
	l.lastHelloSent = at
}

// newInstanceLink seeds lastAvailTime/lastPingTime/lastPongTime to
// creation time rather than leaving them zero (spec.md §4.4: "time
// since the link last became available"). Without this seed, a master
// that is unreachable from the moment it's monitored never accumulates
// an unresponsive duration and so never trips S_DOWN.
func newInstanceLink() *InstanceLink {
	now := time.Now()
	return &InstanceLink{
		refCount:      1,
		disconnected:  true,
		lastAvailTime: now,
		lastPingTime:  now,
		lastPongTime:  now,
	}
}

// ensureConnected kicks off asynchronous (re)connection when the link
// is down and the minimum reconnect period has elapsed. needPubsub is
// true for masters and replicas, false for peer Sentinels (spec.md
// §4.1: "For masters and replicas, open a second connection...").
func (l *InstanceLink) ensureConnected(inst *Instance, addr Address, myID, authUser, authPass string, needPubsub bool, helloChannel string, events chan<- linkEvent) {
	now := time.Now()
	if !l.disconnected {
		return
	}
	if !l.lastReconnTime.IsZero() && now.Sub(l.lastReconnTime) < minLinkReconnectPeriod {
		return
	}
	l.lastReconnTime = now

	if !l.connectingCmd {
		l.connectingCmd = true
		go l.connectCmd(inst, addr, myID, authUser, authPass, events)
	}
	if needPubsub && !l.connectingPubsub {
		l.connectingPubsub = true
		go l.connectPubsub(inst, addr, myID, authUser, authPass, helloChannel, events)
	}
}

func (l *InstanceLink) connectCmd(inst *Instance, addr Address, myID, authUser, authPass string, events chan<- linkEvent) {
	conn, err := dialPeer(addr.String())
	if err != nil {
		events <- linkEvent{link: l, inst: inst, kind: "cmd-failed", err: err, at: time.Now()}
		return
	}
	if err := conn.authenticate(authUser, authPass); err != nil {
		conn.Close()
		events <- linkEvent{link: l, inst: inst, kind: "cmd-failed", err: err, at: time.Now()}
		return
	}
	name := fmt.Sprintf("sentinel-%s-cmd", shortID(myID))
	conn.do(dialTimeout, "CLIENT", "SETNAME", name)
	if _, err := conn.do(dialTimeout, "PING"); err != nil {
		conn.Close()
		events <- linkEvent{link: l, inst: inst, kind: "cmd-failed", err: err, at: time.Now()}
		return
	}
	events <- linkEvent{link: l, inst: inst, kind: "cmd-connected", text: "PONG", conn: conn, at: time.Now()}
}

func (l *InstanceLink) connectPubsub(inst *Instance, addr Address, myID, authUser, authPass, helloChannel string, events chan<- linkEvent) {
	conn, err := dialPeer(addr.String())
	if err != nil {
		events <- linkEvent{link: l, inst: inst, kind: "pubsub-failed", err: err, at: time.Now()}
		return
	}
	if err := conn.authenticate(authUser, authPass); err != nil {
		conn.Close()
		events <- linkEvent{link: l, inst: inst, kind: "pubsub-failed", err: err, at: time.Now()}
		return
	}
	name := fmt.Sprintf("sentinel-%s-pubsub", shortID(myID))
	conn.do(dialTimeout, "CLIENT", "SETNAME", name)
	if _, err := conn.do(dialTimeout, "SUBSCRIBE", helloChannel); err != nil {
		conn.Close()
		events <- linkEvent{link: l, inst: inst, kind: "pubsub-failed", err: err, at: time.Now()}
		return
	}
	events <- linkEvent{link: l, inst: inst, kind: "pubsub-connected", conn: conn, at: time.Now()}

	// Long-lived read loop: every message read off this subscription is
	// forwarded to the actor, which decides what to do with it.
	for {
		conn.conn.SetDeadline(time.Time{})
		v, err := ReadReply(conn.reader)
		if err != nil {
			events <- linkEvent{link: l, inst: inst, kind: "pubsub-closed", err: err, at: time.Now()}
			return
		}
		if v.Kind == '*' && len(v.Array) >= 3 && v.Array[0].Str == "message" {
			events <- linkEvent{link: l, inst: inst, kind: "hello", text: v.Array[2].Str, at: time.Now()}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// close tears down the requested connection(s) and marks the link
// disconnected so it will be retried on a later tick.
func (l *InstanceLink) close(which string) {
	if (which == "cmd" || which == "both") && l.cmd != nil {
		l.cmd.Close()
		l.cmd = nil
	}
	if (which == "pubsub" || which == "both") && l.pubsub != nil {
		l.pubsub.Close()
		l.pubsub = nil
	}
	if which == "both" {
		l.disconnected = true
		l.connectingCmd = false
		l.connectingPubsub = false
		l.actPingTime = time.Time{}
	}
}

// idleOrBroken implements spec.md §4.1's link-health predicate.
func (l *InstanceLink) idleOrBroken(now time.Time, downAfterMs int64, publishPeriod time.Duration) bool {
	if l.cmd != nil && !l.cmdConnectedAt.IsZero() && now.Sub(l.cmdConnectedAt) >= minLinkReconnectPeriod {
		if !l.actPingTime.IsZero() {
			half := time.Duration(downAfterMs/2) * time.Millisecond
			if now.Sub(l.actPingTime) > half && now.Sub(l.lastPongTime) > half {
				return true
			}
		}
	}
	if l.pubsub != nil && !l.pubsubLastActivity.IsZero() && now.Sub(l.pubsubLastActivity) > 3*publishPeriod {
		return true
	}
	return false
}

// shareWith returns the link that should be adopted when two records
// describe the same runid (spec.md §4.1 share_if_possible, §3
// invariant 1): other's refcount is bumped and other is returned so
// the caller can drop its own link in favor of it.
func (l *InstanceLink) shareWith(other *InstanceLink) *InstanceLink {
	if l == other {
		return l
	}
	other.refCount++
	return other
}

func (l *InstanceLink) release() int {
	l.refCount--
	if l.refCount <= 0 {
		l.close("both")
	}
	return l.refCount
}
