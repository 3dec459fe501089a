package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sentinel/internal/sentinel"
)

func TestSplitSpacesHandlesSingleAndRepeatedSeparators(t *testing.T) {
	require.Equal(t, []string{"+switch-master", "mymaster", "1.2.3.4", "6379", "1.2.3.5", "6380"},
		splitSpaces("+switch-master mymaster 1.2.3.4 6379 1.2.3.5 6380"))
	require.Equal(t, []string{"a", "b"}, splitSpaces("  a   b  "))
	require.Nil(t, splitSpaces(""))
}

func TestHandleEventUpdatesMasterAddrOnMatchingSwitchMaster(t *testing.T) {
	c := &SentinelClient{masterName: "mymaster", stop: make(chan struct{}), done: make(chan struct{})}

	c.handleEvent("__sentinel__:+switch-master", "+switch-master mymaster 1.2.3.4 6379 1.2.3.5 6380")

	require.Equal(t, "1.2.3.5:6380", c.MasterAddr())
}

func TestHandleEventIgnoresSwitchMasterForADifferentMaster(t *testing.T) {
	c := &SentinelClient{masterName: "mymaster", masterAddr: "1.2.3.4:6379", stop: make(chan struct{}), done: make(chan struct{})}

	c.handleEvent("__sentinel__:+switch-master", "+switch-master othermaster 1.2.3.4 6379 1.2.3.5 6380")

	require.Equal(t, "1.2.3.4:6379", c.MasterAddr())
}

func TestFieldPairExtractsNamedFieldsFromRESPArray(t *testing.T) {
	v := sentinel.RESPValue{Kind: '*', Array: []sentinel.RESPValue{
		{Kind: '$', Str: "ip"}, {Kind: '$', Str: "127.0.0.1"},
		{Kind: '$', Str: "port"}, {Kind: '$', Str: "6380"},
		{Kind: '$', Str: "flags"}, {Kind: '$', Str: "slave"},
	}}
	ip, port := fieldPair(v, "ip", "port")
	require.Equal(t, "127.0.0.1", ip)
	require.Equal(t, "6380", port)
}

func TestCloseStopsTheWatchLoop(t *testing.T) {
	c := &SentinelClient{
		masterName:  "mymaster",
		dialTimeout: time.Millisecond,
		addrs:       []string{"127.0.0.1:0"}, // unreachable, forces watch() into its backoff path
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go c.watch()
	c.Close() // must return once watch observes c.stop, not hang
}
