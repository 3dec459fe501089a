package sentinel

import "time"

// Flags is a bitmask of role and state flags carried by an Instance,
// mirroring spec.md §3's "bitmask of role flags and one of {S_DOWN,
// O_DOWN, ...}" record shape.
type Flags uint32

const (
	FlagMaster Flags = 1 << iota
	FlagSlave
	FlagSentinel

	FlagSDown
	FlagODown
	FlagMasterDown
	FlagFailoverInProgress
	FlagPromoted
	FlagReconfSent
	FlagReconfInprog
	FlagReconfDone
	FlagForceFailover
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// FailoverState is the six-state failover driver of spec.md §4.6.
type FailoverState int

const (
	FailoverNone FailoverState = iota
	FailoverWaitStart
	FailoverSelectSlave
	FailoverSendSlaveofNoOne
	FailoverWaitPromotion
	FailoverReconfSlaves
	FailoverUpdateConfig
)

func (s FailoverState) String() string {
	switch s {
	case FailoverNone:
		return "none"
	case FailoverWaitStart:
		return "wait-start"
	case FailoverSelectSlave:
		return "select-slave"
	case FailoverSendSlaveofNoOne:
		return "send-slaveof-noone"
	case FailoverWaitPromotion:
		return "wait-promotion"
	case FailoverReconfSlaves:
		return "reconf-slaves"
	case FailoverUpdateConfig:
		return "update-config"
	default:
		return "unknown"
	}
}

// Instance is the polymorphic record of spec.md §3: one of
// {Master, Replica, PeerSentinel}. Role-specific fields are kept in
// the same struct (per spec.md §9's "Design Notes"); fields that
// don't apply to the current role carry zero-value sentinel defaults.
type Instance struct {
	// Identity
	Name           string // user-given for masters; ip:port for replicas; runid for peer Sentinels
	RunID          string // stable per-process id; "" until first INFO
	Flags          Flags
	Addr           Address
	RoleReported     string // "master" | "slave", as last seen via INFO
	RoleReportedTime time.Time

	// Link (shared for peer Sentinels; refcount 1 for masters/replicas)
	Link *InstanceLink

	// Per-master configuration
	DownAfterMs       int64
	FailoverTimeoutMs int64
	ParallelSyncs     int
	Quorum            int // master only
	AuthUser          string
	AuthPass          string
	NotificationScript   string
	ClientReconfigScript string
	RenameCommand        map[string]string

	// Epochs
	ConfigEpoch  int64
	LeaderEpoch  int64
	FailoverEpoch int64

	// Failover bookkeeping
	FailoverState           FailoverState
	FailoverStateChangeTime time.Time
	FailoverStartTime       time.Time
	PromotedReplica         *Instance // back-reference, non-owning

	// Replica-specific
	Master               *Instance // back-reference, non-owning
	MasterHost            string
	MasterPort            int
	MasterLinkStatus      string // "up" | "down"
	ReplOffset            int64
	SlavePriority         int
	ReplicaAnnounced      bool
	MasterLinkDownTime    time.Time
	SlaveConfChangeTime   time.Time
	SlaveReconfSentTime   time.Time

	// Peer-sentinel-specific
	LastHelloTime         time.Time
	LastMasterDownReplyTime time.Time
	Leader                string // whom this peer voted for
	PeerLeaderEpoch       int64

	// Master-specific containers, keyed by "ip:port" for replicas and
	// by runid for peer sentinels.
	Replicas      map[string]*Instance
	PeerSentinels map[string]*Instance

	// Bookkeeping used only by the down detector / prober.
	SDownSince      time.Time
	InfoRefreshTime time.Time
	LastScriptKillAttempt time.Time
	LastAskTime     time.Time // master only: last is-master-down-by-addr broadcast

	// PromotionInFlight guards stateSendSlaveofNoOne against re-issuing
	// the transactional SLAVEOF NO ONE every tick while one is already
	// outstanding.
	PromotionInFlight bool
}

// IsMaster/IsSlave/IsPeerSentinel are readability helpers over Flags.
func (i *Instance) IsMaster() bool       { return i.Flags.Has(FlagMaster) }
func (i *Instance) IsSlave() bool        { return i.Flags.Has(FlagSlave) }
func (i *Instance) IsPeerSentinel() bool { return i.Flags.Has(FlagSentinel) }

func newMasterInstance(name string, addr Address) *Instance {
	return &Instance{
		Name:          name,
		Addr:          addr,
		Flags:         FlagMaster,
		Replicas:      make(map[string]*Instance),
		PeerSentinels: make(map[string]*Instance),
		Link:          newInstanceLink(),
	}
}

func newReplicaInstance(addr Address, master *Instance) *Instance {
	return &Instance{
		Name:   addr.String(),
		Addr:   addr,
		Flags:  FlagSlave,
		Master: master,
		Link:   newInstanceLink(),
	}
}

func newPeerSentinelInstance(runID string, addr Address, master *Instance) *Instance {
	return &Instance{
		Name:   runID,
		RunID:  runID,
		Addr:   addr,
		Flags:  FlagSentinel,
		Master: master,
	}
}
