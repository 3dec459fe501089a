package sentinel

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"sentinel/internal/eventbus"

	"github.com/google/uuid"
)

// Config carries the startup options that used to live in flags and
// the pre-monitor directives of the persisted config file (spec.md
// §6). It carries no monitored masters; those come from LoadConfig or
// a MONITOR command.
type Config struct {
	Port              int
	ConfigPath        string
	AnnounceIP        string
	AnnouncePort      int
	SentinelUser      string
	SentinelPass      string
	ResolveHostnames  bool
	AnnounceHostnames bool
	DenyScriptsReconfig bool
}

// Sentinel is the complete in-process state of one Sentinel: the
// global fields of spec.md §3 ("Global state") plus the handles to
// its ambient collaborators. A single actor goroutine (actor.go) is
// the only thing that ever mutates the fields below; everything else
// talks to it over channels, so nothing here needs a mutex (spec.md
// §5).
type Sentinel struct {
	myID         string
	currentEpoch int64

	masters map[string]*Instance

	tilt              bool
	tiltStartTime     time.Time
	previousTickTime  time.Time

	announceIP        string
	announcePort      int
	sentinelUser      string
	sentinelPass      string
	resolveHostnames  bool
	announceHostnames bool
	denyScriptsReconfig bool

	logger  *log.Logger
	pubsub  *eventbus.Bus
	scripts *scriptExecutor
	store   *configStore

	events chan linkEvent
	cmds   chan command

	rng *rand.Rand
}

// NewSentinel constructs an empty registry. myID is read from the
// config file if present, otherwise minted once here and persisted on
// first rewrite (spec.md §3: "generated once and persisted").
func NewSentinel(cfg Config, myID string, logger *log.Logger) *Sentinel {
	if myID == "" {
		myID = generateRunID()
	}
	s := &Sentinel{
		myID:              myID,
		masters:           make(map[string]*Instance),
		announceIP:        cfg.AnnounceIP,
		announcePort:      cfg.AnnouncePort,
		sentinelUser:       cfg.SentinelUser,
		sentinelPass:       cfg.SentinelPass,
		resolveHostnames:   cfg.ResolveHostnames,
		announceHostnames:  cfg.AnnounceHostnames,
		denyScriptsReconfig: cfg.DenyScriptsReconfig,
		logger:            logger,
		pubsub:            eventbus.NewBus(),
		events:            make(chan linkEvent, 256),
		cmds:              make(chan command, 64),
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.scripts = newScriptExecutor(s)
	s.store = newConfigStore(cfg.ConfigPath)
	return s
}

// LoadConfig parses the persisted config file, if any, populating
// masters and global state before the actor loop starts.
func (s *Sentinel) LoadConfig() error {
	return s.store.Load(s)
}

// SaveConfig atomically rewrites the persisted config file (spec.md
// §6, §5). Failure to persist is a fatal-local-I/O error per spec.md
// §7: log a warning and keep running.
func (s *Sentinel) SaveConfig() {
	if err := s.store.Save(s); err != nil {
		s.logger.Printf("[config] rewrite failed: %v", err)
	}
}

// generateRunID mints a 40-char hex ID the way the teacher's sentinel
// server derives client/server identities, but grounded on a real
// UUID generator instead of hand-rolled randomness: two v4 UUIDs
// concatenated and stripped of hyphens, matching Redis's own
// convention of a 40-char hex runid from 20 random bytes.
func generateRunID() string {
	a := uuid.New()
	b := uuid.New()
	raw := a.String() + b.String()
	id := make([]byte, 0, 40)
	for _, c := range raw {
		if c == '-' {
			continue
		}
		id = append(id, byte(c))
		if len(id) == 40 {
			break
		}
	}
	return string(id)
}

func (s *Sentinel) MyID() string { return s.myID }

func (s *Sentinel) bumpEpoch(epoch int64) bool {
	if epoch > s.currentEpoch {
		s.currentEpoch = epoch
		return true
	}
	return false
}

// monitorMaster implements `SENTINEL MONITOR` (spec.md §6): creates a
// brand-new master record, or returns an error and leaves the registry
// unchanged if one by this name already exists (callers should REMOVE
// first).
func (s *Sentinel) monitorMaster(name string, addr Address, quorum int) (*Instance, error) {
	if _, ok := s.masters[name]; ok {
		return nil, fmt.Errorf("-ERR master %q already monitored", name)
	}
	m := newMasterInstance(name, addr)
	m.Quorum = quorum
	m.DownAfterMs = defaultDownAfterMs
	m.FailoverTimeoutMs = defaultFailoverTimeoutMs
	m.ParallelSyncs = defaultParallelSyncs
	s.masters[name] = m
	s.emitFor(m, EventSentinel, "+monitor master %s %s quorum %d", name, addr, quorum)
	return m, nil
}

// removeMaster implements `SENTINEL REMOVE` (spec.md §3 "Lifecycle":
// masters are destroyed only by explicit REMOVE or RESET).
func (s *Sentinel) removeMaster(name string) error {
	m, ok := s.masters[name]
	if !ok {
		return fmt.Errorf("-ERR No such master with that name")
	}
	for _, r := range m.Replicas {
		r.Link.release()
	}
	for _, p := range m.PeerSentinels {
		p.Link.release()
	}
	m.Link.release()
	delete(s.masters, name)
	return nil
}

// resetMaster implements spec.md §4.8 Reset: clears replicas and
// (when clearSentinels) peer Sentinels, closes links, clears failover
// state and leader vote, and marks the record as master regardless of
// its last reported role.
func (s *Sentinel) resetMaster(m *Instance, clearSentinels bool) {
	for _, r := range m.Replicas {
		r.Link.release()
	}
	m.Replicas = make(map[string]*Instance)
	if clearSentinels {
		for _, p := range m.PeerSentinels {
			p.Link.release()
		}
		m.PeerSentinels = make(map[string]*Instance)
	}
	m.Flags = FlagMaster
	m.FailoverState = FailoverNone
	m.FailoverStateChangeTime = time.Time{}
	m.FailoverStartTime = time.Time{}
	m.PromotedReplica = nil
	m.Leader = ""
	m.LeaderEpoch = 0
	m.SDownSince = time.Time{}
}

// resetMasterWithAddressChange implements spec.md §4.8
// Reset-with-address-change: the old master address becomes a new
// replica, every pre-existing replica address is preserved, and a
// Reset wipes transient state before the replica set is rebuilt.
func (s *Sentinel) resetMasterWithAddressChange(m *Instance, newAddr Address) {
	oldAddr := m.Addr
	preserved := make([]Address, 0, len(m.Replicas))
	for _, r := range m.Replicas {
		preserved = append(preserved, r.Addr)
	}
	s.resetMaster(m, false)
	m.Addr = newAddr
	if oldAddr.Valid() && !oldAddr.Equal(newAddr) {
		s.addReplica(m, oldAddr)
	}
	for _, addr := range preserved {
		if !addr.Equal(newAddr) {
			s.addReplica(m, addr)
		}
	}
}

// addReplica auto-creates a replica record the way the prober does
// when it sees a `slaveN:` line it doesn't already know (spec.md
// §4.2). Replicas are addressed by "ip:port" and are never removed
// except as part of a master reset/address change (spec.md §3
// Lifecycle).
func (s *Sentinel) addReplica(m *Instance, addr Address) *Instance {
	key := addr.String()
	if r, ok := m.Replicas[key]; ok {
		return r
	}
	r := newReplicaInstance(addr, m)
	m.Replicas[key] = r
	return r
}

func (s *Sentinel) findMasterByAddr(addr Address) *Instance {
	for _, m := range s.masters {
		if m.Addr.Equal(addr) {
			return m
		}
	}
	return nil
}

// findPeerByRunID looks across EVERY master's peer_sentinels container
// for a record with the given runid, used by share_if_possible and by
// gossip's re-binding rule (spec.md invariant 1).
func (s *Sentinel) findPeerByRunID(runID string) *Instance {
	for _, m := range s.masters {
		for _, p := range m.PeerSentinels {
			if p.RunID == runID {
				return p
			}
		}
	}
	return nil
}

// addOrUpdatePeerSentinel implements the creation half of spec.md
// §4.3 point 3: a brand-new runid observed watching master m gets its
// own record, sharing a link with any existing same-runid record
// elsewhere in the fleet (share_if_possible, spec.md §4.1).
func (s *Sentinel) addOrUpdatePeerSentinel(m *Instance, runID string, addr Address) *Instance {
	key := runID
	if p, ok := m.PeerSentinels[key]; ok {
		return p
	}
	p := newPeerSentinelInstance(runID, addr, m)
	if existing := s.findPeerByRunID(runID); existing != nil {
		p.Link = p.Link.shareWith(existing.Link)
	} else {
		p.Link = newInstanceLink()
	}
	m.PeerSentinels[key] = p
	return p
}

// rebindPeerAddress implements spec.md §4.3 point 3's "re-bind any
// existing records across masters to the new address, closing links
// so they reconnect" — invoked when a known runid is seen announcing
// from a different address than its current records show.
func (s *Sentinel) rebindPeerAddress(runID string, newAddr Address) {
	for _, m := range s.masters {
		if p, ok := m.PeerSentinels[runID]; ok {
			oldAddr := p.Addr
			if !oldAddr.Equal(newAddr) {
				s.emitFor(m, EventSentinelAddrSwitch, "sentinel %s %s -> %s", runID, oldAddr, newAddr)
			}
			p.Addr = newAddr
			p.Link.close("both")
		}
	}
}

// invalidateColliding implements spec.md §4.3 point 4: a differently
// run-ID'd entry currently claiming newAddr has its port zeroed out
// (marked invalid) pending a future HELLO from it.
func (s *Sentinel) invalidateColliding(m *Instance, runID string, addr Address) {
	for _, p := range m.PeerSentinels {
		if p.RunID != runID && p.Addr.Equal(addr) {
			p.Addr.Port = 0
			s.emitFor(m, EventSentinelInvalidAddr, "sentinel %s claims address %s also held by %s", runID, addr, p.RunID)
		}
	}
}

func (s *Sentinel) totalVoters(m *Instance) int {
	return len(m.PeerSentinels) + 1
}
