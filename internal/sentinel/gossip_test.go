package sentinel

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func helloPayload(senderIP string, senderPort int, senderRunID string, senderEpoch int64, masterName, masterIP string, masterPort int, masterConfigEpoch int64) string {
	return fmt.Sprintf("%s,%d,%s,%d,%s,%s,%d,%d", senderIP, senderPort, senderRunID, senderEpoch, masterName, masterIP, masterPort, masterConfigEpoch)
}

func TestHandleHelloCreatesNewPeerSentinel(t *testing.T) {
	s, m := freshMasterForFailover(t)
	payload := helloPayload("10.0.0.1", 26379, "peer-runid", 1, "mymaster", "127.0.0.1", 6379, 0)

	s.handleHello(m, payload, time.Now())

	require.Contains(t, m.PeerSentinels, "peer-runid")
}

func TestHandleHelloIgnoresItsOwnGossip(t *testing.T) {
	s, m := freshMasterForFailover(t)
	payload := helloPayload("10.0.0.1", 26379, s.myID, 1, "mymaster", "127.0.0.1", 6379, 0)

	s.handleHello(m, payload, time.Now())

	require.Len(t, m.PeerSentinels, 0)
}

func TestHandleHelloIgnoresMalformedPayload(t *testing.T) {
	s, m := freshMasterForFailover(t)

	s.handleHello(m, "not,enough,fields", time.Now())

	require.Len(t, m.PeerSentinels, 0)
}

func TestHandleHelloAdoptsNewMasterAddressOnHigherConfigEpoch(t *testing.T) {
	s, m := freshMasterForFailover(t)
	m.ConfigEpoch = 1
	payload := helloPayload("10.0.0.1", 26379, "peer-runid", 1, "mymaster", "127.0.0.1", 6390, 2)

	s.handleHello(m, payload, time.Now())

	require.Equal(t, int64(2), m.ConfigEpoch)
	require.True(t, m.Addr.Equal(addr(t, "127.0.0.1", 6390)))
}

func TestHandleHelloIgnoresStaleMasterConfigEpoch(t *testing.T) {
	s, m := freshMasterForFailover(t)
	m.ConfigEpoch = 5
	originalAddr := m.Addr
	payload := helloPayload("10.0.0.1", 26379, "peer-runid", 1, "mymaster", "127.0.0.1", 6390, 2)

	s.handleHello(m, payload, time.Now())

	require.True(t, m.Addr.Equal(originalAddr), "a lower config-epoch must never override the current master address")
}
