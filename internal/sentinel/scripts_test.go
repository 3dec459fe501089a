package sentinel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueNotificationNoopsWithoutAScriptConfigured(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)

	s.scripts.enqueueNotification(m, EventSDownEnter, "+sdown master mymaster 127.0.0.1:6379")
	require.Equal(t, 0, s.scripts.pending())
}

func TestEnqueueNotificationQueuesWhenScriptConfigured(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	m.NotificationScript = "/bin/true"

	s.scripts.enqueueNotification(m, EventSDownEnter, "+sdown master mymaster 127.0.0.1:6379")
	require.Equal(t, 1, s.scripts.pending())
}

func TestEnqueueClientReconfigRespectsDenyScriptsReconfig(t *testing.T) {
	s := testSentinel(t)
	s.denyScriptsReconfig = true
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	m.ClientReconfigScript = "/bin/true"

	s.scripts.enqueueClientReconfig(m, "leader", "start", m.Addr, m.Addr)
	require.Equal(t, 0, s.scripts.pending(), "deny-scripts-reconfig must suppress client-reconfig-script execution")
}

func TestEnqueueStopsGrowingPastQueueCap(t *testing.T) {
	s := testSentinel(t)
	m, err := s.monitorMaster("mymaster", addr(t, "127.0.0.1", 6379), 2)
	require.NoError(t, err)
	m.NotificationScript = "/bin/true"

	for i := 0; i < scriptQueueCap+10; i++ {
		s.scripts.enqueueNotification(m, EventSDownEnter, "repeat")
	}
	require.Equal(t, scriptQueueCap, s.scripts.pending())
}
