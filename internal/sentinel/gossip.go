package sentinel

import (
	"strconv"
	"strings"
	"time"
)

// helloChannel is the fixed well-known topic every monitored
// instance's pub/sub connection subscribes to (spec.md §4.3, §6).
const helloChannel = "__sentinel__:hello"

// handleHello implements spec.md §4.3's eight-field gossip handling,
// run for every master that owns a link to the sender (a Hello is
// delivered once per subscribed connection; m is the master whose
// pub/sub connection received it).
func (s *Sentinel) handleHello(m *Instance, payload string, now time.Time) {
	fields := strings.Split(payload, ",")
	if len(fields) != 8 {
		return
	}
	senderIP := fields[0]
	senderPort, err1 := strconv.Atoi(fields[1])
	senderRunID := fields[2]
	senderEpoch, err2 := strconv.ParseInt(fields[3], 10, 64)
	masterName := fields[4]
	masterIP := fields[5]
	masterPort, err3 := strconv.Atoi(fields[6])
	masterConfigEpoch, err4 := strconv.ParseInt(fields[7], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return
	}

	// 1. unknown master name -> drop.
	target, ok := s.masters[masterName]
	if !ok || target != m {
		return
	}
	// 2. self-messages ignored.
	if senderRunID == s.myID {
		return
	}

	senderAddr, err := ResolveAddress(senderIP, senderPort, s.resolveHostnames)
	if err != nil {
		return
	}

	// 3 & 4: new runid, address change, and collision handling.
	if existing, exists := m.PeerSentinels[senderRunID]; exists {
		if !existing.Addr.Equal(senderAddr) {
			s.rebindPeerAddress(senderRunID, senderAddr)
		}
	} else {
		s.addOrUpdatePeerSentinel(m, senderRunID, senderAddr)
	}
	s.invalidateColliding(m, senderRunID, senderAddr)
	p := m.PeerSentinels[senderRunID]
	if p == nil {
		return
	}

	// 5. adopt a higher epoch.
	if s.bumpEpoch(senderEpoch) {
		s.SaveConfig()
		s.emitGlobal(EventNewEpoch, "%d", s.currentEpoch)
	}

	// 6. sender's view of the master address is authoritative if its
	// config_epoch is newer than ours.
	if masterConfigEpoch > m.ConfigEpoch {
		newAddr, err := ResolveAddress(masterIP, masterPort, s.resolveHostnames)
		if err == nil && !newAddr.Equal(m.Addr) {
			oldAddr := m.Addr
			s.emitFor(m, EventConfigUpdateFrom, "%s new address %s config-epoch %d", senderRunID, newAddr, masterConfigEpoch)
			s.resetMasterWithAddressChange(m, newAddr)
			m.ConfigEpoch = masterConfigEpoch
			s.scripts.enqueueClientReconfig(m, "observer", "start", oldAddr, newAddr)
			s.emitFor(m, EventSwitchMaster, "%s %s %d %s %d", m.Name, oldAddr.ResolvedIP, oldAddr.Port, newAddr.ResolvedIP, newAddr.Port)
		}
	}

	// 7.
	p.LastHelloTime = now
}
