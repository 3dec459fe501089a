package sentinel

import "fmt"

// Event topics published internally (spec.md §7). They are delivered
// to the process log and to any client subscribed to the
// corresponding channel on the command server's pub/sub surface.
const (
	EventSDownEnter          = "+sdown"
	EventSDownExit           = "-sdown"
	EventODownEnter          = "+odown"
	EventODownExit           = "-odown"
	EventTryFailover         = "+try-failover"
	EventElectedLeader       = "+elected-leader"
	EventFailoverStatePrefix = "+failover-state-"
	EventSlaveReconfSent     = "+slave-reconf-sent"
	EventSlaveReconfInprog   = "+slave-reconf-inprog"
	EventSlaveReconfDone     = "+slave-reconf-done"
	EventFailoverEnd         = "+failover-end"
	EventSwitchMaster        = "+switch-master"
	EventReboot              = "+reboot"
	EventNewEpoch            = "+new-epoch"
	EventVoteForLeader       = "+vote-for-leader"
	EventConfigUpdateFrom    = "+config-update-from"
	EventSentinel            = "+sentinel"
	EventSentinelAddrSwitch  = "-sentinel-address-switch"
	EventSentinelInvalidAddr = "+sentinel-invalid-addr"
	EventFixSlaveConfig      = "+fix-slave-config"
	EventConvertToSlave      = "+convert-to-slave"
	EventTiltEnter           = "+tilt"
	EventTiltExit            = "-tilt"
	EventPromotedSlave       = "+promoted-slave"
)

func isWarningTopic(topic string) bool {
	switch topic {
	case EventSDownEnter, EventODownEnter, EventSentinelInvalidAddr:
		return true
	default:
		return false
	}
}

// emitGlobal publishes an event with no single owning master (epoch
// bumps, sentinel-level notices).
func (s *Sentinel) emitGlobal(topic, format string, args ...interface{}) {
	s.emitFor(nil, topic, format, args...)
}

// emitFor publishes an event tied to a master, additionally queuing
// that master's notification script when the topic is warning-level
// (spec.md §4.10, §7).
func (s *Sentinel) emitFor(m *Instance, topic, format string, args ...interface{}) {
	detail := fmt.Sprintf(format, args...)
	line := topic
	if detail != "" {
		line = topic + " " + detail
	}
	s.logger.Printf("%s", line)
	s.pubsub.Publish("__sentinel__:"+topic, line)
	if isWarningTopic(topic) && m != nil && s.scripts != nil {
		s.scripts.enqueueNotification(m, topic, line)
	}
}
