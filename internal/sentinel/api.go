package sentinel

import (
	"fmt"

	"sentinel/internal/eventbus"
)

// The methods in this file are the only entry points a command-server
// connection goroutine may call directly (as opposed to going through
// Dispatch): they either read fields that never change after startup
// (myID, auth credentials) or delegate to the eventbus.Bus, which is
// already safe for concurrent use from any goroutine. Everything that
// touches registry state still crosses s.cmds via Dispatch.

func (s *Sentinel) Subscribe(id string, sub *eventbus.Subscriber, channels ...string) []string {
	return s.pubsub.Subscribe(id, sub, channels...)
}

func (s *Sentinel) PSubscribe(id string, sub *eventbus.Subscriber, patterns ...string) []string {
	return s.pubsub.PSubscribe(id, sub, patterns...)
}

func (s *Sentinel) Unsubscribe(id string) {
	s.pubsub.Unsubscribe(id)
	s.pubsub.PUnsubscribe(id)
	s.pubsub.RemoveSubscriber(id)
}

func (s *Sentinel) Publish(channel, payload string) int {
	return s.pubsub.Publish(channel, payload)
}

func (s *Sentinel) RequiresAuth() bool {
	return s.sentinelPass != ""
}

func (s *Sentinel) CheckAuth(user, pass string) bool {
	if s.sentinelUser != "" && user != s.sentinelUser {
		return false
	}
	return pass == s.sentinelPass
}

// MasterNamesRESP and InfoText both read registry state, so they cross
// s.cmds via Dispatch like every other query instead of touching
// s.masters from the calling connection goroutine (spec.md §5).

func (s *Sentinel) MasterNamesRESP() [][]byte {
	v := s.Dispatch("MASTER-NAMES", nil)
	out := make([][]byte, 0, len(v.Array))
	for _, item := range v.Array {
		out = append(out, []byte(fmt.Sprintf("$%d\r\n%s\r\n", len(item.Str), item.Str)))
	}
	return out
}

func (s *Sentinel) InfoText() string {
	return s.Dispatch("INFO-TEXT", nil).Str
}
