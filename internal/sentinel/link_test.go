package sentinel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdleOrBrokenIsFalseForAFreshlyConnectedLink(t *testing.T) {
	l := newInstanceLink()
	l.cmd = &peerConn{}
	l.cmdConnectedAt = time.Now()

	require.False(t, l.idleOrBroken(time.Now(), 30000, publishPeriod))
}

func TestIdleOrBrokenTrueWhenPingUnansweredPastHalfDownAfter(t *testing.T) {
	l := newInstanceLink()
	now := time.Now()
	l.cmd = &peerConn{}
	l.cmdConnectedAt = now.Add(-1 * time.Hour) // long past minLinkReconnectPeriod
	l.actPingTime = now.Add(-20 * time.Second)
	l.lastPongTime = now.Add(-20 * time.Second)

	require.True(t, l.idleOrBroken(now, 30000, publishPeriod), "downAfterMs=30000 means half=15s; 20s unanswered must trip it")
}

func TestIdleOrBrokenFalseWithinMinLinkReconnectPeriod(t *testing.T) {
	l := newInstanceLink()
	now := time.Now()
	l.cmd = &peerConn{}
	l.cmdConnectedAt = now.Add(-5 * time.Second) // younger than minLinkReconnectPeriod
	l.actPingTime = now.Add(-20 * time.Second)
	l.lastPongTime = now.Add(-20 * time.Second)

	require.False(t, l.idleOrBroken(now, 30000, publishPeriod), "a just-opened connection is given a grace period before the ping check applies")
}

func TestIdleOrBrokenTrueWhenPubsubHasGoneQuiet(t *testing.T) {
	l := newInstanceLink()
	now := time.Now()
	l.pubsub = &peerConn{}
	l.pubsubLastActivity = now.Add(-10 * time.Second) // > 3*publishPeriod(2s) = 6s

	require.True(t, l.idleOrBroken(now, 30000, publishPeriod))
}

func TestIdleOrBrokenFalseWhenPubsubRecentlyActive(t *testing.T) {
	l := newInstanceLink()
	now := time.Now()
	l.pubsub = &peerConn{}
	l.pubsubLastActivity = now.Add(-time.Second)

	require.False(t, l.idleOrBroken(now, 30000, publishPeriod))
}

func TestCloseBothTearsDownEverythingAndMarksDisconnected(t *testing.T) {
	l := newInstanceLink()
	l.disconnected = false
	l.cmd = &peerConn{conn: nil}
	l.pubsub = &peerConn{conn: nil}
	l.connectingCmd = true
	l.connectingPubsub = true
	l.actPingTime = time.Now()

	l.close("both")

	require.Nil(t, l.cmd)
	require.Nil(t, l.pubsub)
	require.True(t, l.disconnected)
	require.False(t, l.connectingCmd)
	require.False(t, l.connectingPubsub)
	require.True(t, l.actPingTime.IsZero())
}

func TestCloseCmdOnlyLeavesPubsubAndDisconnectedFlagUntouched(t *testing.T) {
	l := newInstanceLink()
	l.disconnected = false
	l.cmd = &peerConn{}
	l.pubsub = &peerConn{}

	l.close("cmd")

	require.Nil(t, l.cmd)
	require.NotNil(t, l.pubsub)
	require.False(t, l.disconnected, "a partial close must not flip the lifecycle flag")
}

func TestShareWithBumpsRefCountOnTheAdoptedLink(t *testing.T) {
	a := newInstanceLink()
	b := newInstanceLink()

	adopted := a.shareWith(b)

	require.Same(t, b, adopted)
	require.Equal(t, 2, b.refCount)
}

func TestShareWithIsNoopAgainstItself(t *testing.T) {
	a := newInstanceLink()

	adopted := a.shareWith(a)

	require.Same(t, a, adopted)
	require.Equal(t, 1, a.refCount)
}

func TestReleaseDecrementsRefCount(t *testing.T) {
	l := newInstanceLink()
	l.refCount = 2

	remaining := l.release()

	require.Equal(t, 1, remaining)
}
