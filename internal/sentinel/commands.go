package sentinel

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// command is how the command server (a separate goroutine per
// connection) asks the actor to read or mutate registry state. The
// actor is the only goroutine that touches Instance/InstanceLink
// fields, so every SENTINEL subcommand crosses this channel and
// blocks the calling connection goroutine on reply (spec.md §5).
type command struct {
	name  string
	args  []string
	reply chan RESPValue
}

// Dispatch sends a SENTINEL subcommand (or one of the internal
// MASTER-NAMES/INFO-TEXT queries used by api.go) to the actor and
// blocks for its reply. Safe to call from any goroutine.
func (s *Sentinel) Dispatch(name string, args []string) RESPValue {
	c := command{name: strings.ToUpper(name), args: args, reply: make(chan RESPValue, 1)}
	s.cmds <- c
	return <-c.reply
}

func (s *Sentinel) handleCommand(c command) {
	var v RESPValue
	switch c.name {
	case "MONITOR":
		v = s.cmdMonitor(c.args)
	case "REMOVE":
		v = s.cmdRemove(c.args)
	case "RESET":
		v = s.cmdReset(c.args)
	case "MASTERS":
		v = s.cmdMasters()
	case "MASTER":
		v = s.cmdMaster(c.args)
	case "REPLICAS", "SLAVES":
		v = s.cmdReplicas(c.args)
	case "SENTINELS":
		v = s.cmdSentinels(c.args)
	case "GET-MASTER-ADDR-BY-NAME":
		v = s.cmdGetMasterAddr(c.args)
	case "IS-MASTER-DOWN-BY-ADDR":
		v = s.cmdIsMasterDownByAddr(c.args)
	case "FAILOVER":
		v = s.cmdFailover(c.args)
	case "CKQUORUM":
		v = s.cmdCkquorum(c.args)
	case "SET":
		v = s.cmdSet(c.args)
	case "CONFIG":
		v = s.cmdConfig(c.args)
	case "MYID":
		v = RESPValue{Kind: '$', Str: s.myID}
	case "FLUSHCONFIG":
		s.SaveConfig()
		v = RESPValue{Kind: '+', Str: "OK"}
	case "PENDING-SCRIPTS":
		v = s.cmdPendingScripts()
	case "INFO-CACHE":
		v = s.cmdInfoCache(c.args)
	case "MASTER-NAMES":
		names := make([]RESPValue, 0, len(s.masters))
		for name := range s.masters {
			names = append(names, bulk(name))
		}
		v = array(names...)
	case "INFO-TEXT":
		v = bulk(s.infoText())
	default:
		v = errReply("ERR unknown sentinel subcommand '" + c.name + "'")
	}
	c.reply <- v
}

func errReply(msg string) RESPValue { return RESPValue{Kind: '-', Str: msg} }
func bulk(s string) RESPValue       { return RESPValue{Kind: '$', Str: s} }
func integer(n int64) RESPValue     { return RESPValue{Kind: ':', Int: n} }
func array(items ...RESPValue) RESPValue {
	return RESPValue{Kind: '*', Array: items}
}

func (s *Sentinel) cmdMonitor(args []string) RESPValue {
	if len(args) != 4 {
		return errReply("ERR wrong number of arguments")
	}
	port, err := strconv.Atoi(args[2])
	if err != nil {
		return errReply("ERR invalid port")
	}
	quorum, err := strconv.Atoi(args[3])
	if err != nil {
		return errReply("ERR invalid quorum")
	}
	addr, err := ResolveAddress(args[1], port, s.resolveHostnames)
	if err != nil {
		return errReply("ERR " + err.Error())
	}
	if _, err := s.monitorMaster(args[0], addr, quorum); err != nil {
		return errReply(err.Error())
	}
	s.SaveConfig()
	return RESPValue{Kind: '+', Str: "OK"}
}

func (s *Sentinel) cmdRemove(args []string) RESPValue {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments")
	}
	if err := s.removeMaster(args[0]); err != nil {
		return errReply(err.Error())
	}
	s.SaveConfig()
	return RESPValue{Kind: '+', Str: "OK"}
}

func (s *Sentinel) cmdReset(args []string) RESPValue {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments")
	}
	n := int64(0)
	for name, m := range s.masters {
		if matchGlob(args[0], name) {
			s.resetMaster(m, true)
			n++
		}
	}
	s.SaveConfig()
	return integer(n)
}

func (s *Sentinel) cmdMasters() RESPValue {
	items := make([]RESPValue, 0, len(s.masters))
	for _, m := range s.masters {
		items = append(items, masterFields(m))
	}
	return array(items...)
}

func (s *Sentinel) cmdMaster(args []string) RESPValue {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments")
	}
	m, ok := s.masters[args[0]]
	if !ok {
		return errReply("ERR No such master with that name")
	}
	return masterFields(m)
}

func (s *Sentinel) cmdReplicas(args []string) RESPValue {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments")
	}
	m, ok := s.masters[args[0]]
	if !ok {
		return errReply("ERR No such master with that name")
	}
	items := make([]RESPValue, 0, len(m.Replicas))
	for _, r := range m.Replicas {
		items = append(items, replicaFields(r))
	}
	return array(items...)
}

func (s *Sentinel) cmdSentinels(args []string) RESPValue {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments")
	}
	m, ok := s.masters[args[0]]
	if !ok {
		return errReply("ERR No such master with that name")
	}
	items := make([]RESPValue, 0, len(m.PeerSentinels))
	for _, p := range m.PeerSentinels {
		items = append(items, peerFields(p))
	}
	return array(items...)
}

// cmdGetMasterAddr returns the current authoritative address (spec.md
// §6): the promoted replica's address once a failover is past
// RECONF_SLAVES, the registry address otherwise.
func (s *Sentinel) cmdGetMasterAddr(args []string) RESPValue {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments")
	}
	m, ok := s.masters[args[0]]
	if !ok {
		return RESPValue{Kind: '*', Null: true}
	}
	addr := m.Addr
	if m.FailoverState == FailoverUpdateConfig && m.PromotedReplica != nil {
		addr = m.PromotedReplica.Addr
	}
	return array(bulk(addr.ResolvedIP), bulk(strconv.Itoa(addr.Port)))
}

func (s *Sentinel) cmdIsMasterDownByAddr(args []string) RESPValue {
	if len(args) != 4 {
		return errReply("ERR wrong number of arguments")
	}
	port, _ := strconv.Atoi(args[1])
	addr, err := ResolveAddress(args[0], port, s.resolveHostnames)
	if err != nil {
		return errReply("ERR " + err.Error())
	}
	reqEpoch, _ := strconv.ParseInt(args[2], 10, 64)
	reqRunID := args[3]

	m := s.findMasterByAddr(addr)
	if m == nil {
		return array(integer(0), bulk("*"), integer(0))
	}
	down := int64(0)
	if m.Flags.Has(FlagSDown) {
		down = 1
	}
	leader, epoch := m.Leader, m.LeaderEpoch
	if reqRunID != "*" {
		leader, epoch = s.vote(m, reqEpoch, reqRunID, time.Now())
	}
	if leader == "" {
		leader = "*"
	}
	return array(integer(down), bulk(leader), integer(epoch))
}

func (s *Sentinel) cmdFailover(args []string) RESPValue {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments")
	}
	m, ok := s.masters[args[0]]
	if !ok {
		return errReply("ERR No such master with that name")
	}
	if m.Flags.Has(FlagFailoverInProgress) {
		return errReply("INPROG Failover already in progress")
	}
	m.Flags |= FlagForceFailover
	s.startFailover(m, time.Now())
	return RESPValue{Kind: '+', Str: "OK"}
}

func (s *Sentinel) cmdCkquorum(args []string) RESPValue {
	if len(args) != 1 {
		return errReply("ERR wrong number of arguments")
	}
	m, ok := s.masters[args[0]]
	if !ok {
		return errReply("ERR No such master with that name")
	}
	reachable := 1
	for _, p := range m.PeerSentinels {
		if p.Link.cmd != nil {
			reachable++
		}
	}
	if reachable < m.Quorum {
		return errReply("NOQUORUM Not enough available Sentinels to reach the specified quorum")
	}
	voters := s.totalVoters(m)
	if voters/2+1 > reachable {
		return errReply("NOQUORUM Not enough available Sentinels to reach the majority needed to authorize a failover")
	}
	return bulk("OK " + strconv.Itoa(reachable) + " usable Sentinels. Quorum and failover authorization can be reached")
}

func (s *Sentinel) cmdSet(args []string) RESPValue {
	if len(args) < 3 {
		return errReply("ERR wrong number of arguments")
	}
	m, ok := s.masters[args[0]]
	if !ok {
		return errReply("ERR No such master with that name")
	}
	opt, val := strings.ToLower(args[1]), args[2]
	switch opt {
	case "down-after-milliseconds":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return errReply("ERR invalid value")
		}
		m.DownAfterMs = n
	case "failover-timeout":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return errReply("ERR invalid value")
		}
		m.FailoverTimeoutMs = n
	case "parallel-syncs":
		n, err := strconv.Atoi(val)
		if err != nil {
			return errReply("ERR invalid value")
		}
		m.ParallelSyncs = n
	case "quorum":
		n, err := strconv.Atoi(val)
		if err != nil {
			return errReply("ERR invalid value")
		}
		m.Quorum = n
	case "notification-script":
		m.NotificationScript = val
	case "client-reconfig-script":
		m.ClientReconfigScript = val
	case "auth-pass":
		m.AuthPass = val
	case "auth-user":
		m.AuthUser = val
	default:
		return errReply("ERR Unknown option " + opt)
	}
	s.SaveConfig()
	return RESPValue{Kind: '+', Str: "OK"}
}

// cmdConfig implements the global `SENTINEL CONFIG GET/SET` surface
// (spec.md §6), limited to the handful of process-wide knobs that
// aren't per-master.
func (s *Sentinel) cmdConfig(args []string) RESPValue {
	if len(args) < 2 {
		return errReply("ERR wrong number of arguments")
	}
	switch strings.ToUpper(args[0]) {
	case "GET":
		switch args[1] {
		case "resolve-hostnames":
			return array(bulk(args[1]), bulk(yesNo(s.resolveHostnames)))
		case "announce-hostnames":
			return array(bulk(args[1]), bulk(yesNo(s.announceHostnames)))
		case "announce-ip":
			return array(bulk(args[1]), bulk(s.announceIP))
		case "announce-port":
			return array(bulk(args[1]), bulk(strconv.Itoa(s.announcePort)))
		default:
			return array()
		}
	case "SET":
		if len(args) != 3 {
			return errReply("ERR wrong number of arguments")
		}
		switch args[1] {
		case "resolve-hostnames":
			s.resolveHostnames = args[2] == "yes"
		case "announce-hostnames":
			s.announceHostnames = args[2] == "yes"
		case "announce-ip":
			s.announceIP = args[2]
		case "announce-port":
			s.announcePort, _ = strconv.Atoi(args[2])
		default:
			return errReply("ERR Unknown option " + args[1])
		}
		s.SaveConfig()
		return RESPValue{Kind: '+', Str: "OK"}
	}
	return errReply("ERR unknown CONFIG subcommand")
}

func (s *Sentinel) cmdPendingScripts() RESPValue {
	return array(bulk("queued"), integer(int64(s.scripts.pending())))
}

func (s *Sentinel) cmdInfoCache(args []string) RESPValue {
	names := args
	if len(names) == 0 {
		for name := range s.masters {
			names = append(names, name)
		}
	}
	items := make([]RESPValue, 0, len(names)*2)
	for _, name := range names {
		m, ok := s.masters[name]
		if !ok {
			continue
		}
		age := int64(0)
		if !m.InfoRefreshTime.IsZero() {
			age = time.Since(m.InfoRefreshTime).Milliseconds()
		}
		items = append(items, bulk(name), array(integer(age), bulk("master")))
	}
	return array(items...)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func masterFields(m *Instance) RESPValue {
	fields := []RESPValue{
		bulk("name"), bulk(m.Name),
		bulk("ip"), bulk(m.Addr.ResolvedIP),
		bulk("port"), bulk(strconv.Itoa(m.Addr.Port)),
		bulk("runid"), bulk(m.RunID),
		bulk("flags"), bulk(flagsString(m)),
		bulk("num-slaves"), bulk(strconv.Itoa(len(m.Replicas))),
		bulk("num-other-sentinels"), bulk(strconv.Itoa(len(m.PeerSentinels))),
		bulk("quorum"), bulk(strconv.Itoa(m.Quorum)),
		bulk("config-epoch"), bulk(strconv.FormatInt(m.ConfigEpoch, 10)),
		bulk("down-after-milliseconds"), bulk(strconv.FormatInt(m.DownAfterMs, 10)),
		bulk("failover-timeout"), bulk(strconv.FormatInt(m.FailoverTimeoutMs, 10)),
		bulk("parallel-syncs"), bulk(strconv.Itoa(m.ParallelSyncs)),
	}
	return array(fields...)
}

func replicaFields(r *Instance) RESPValue {
	return array(
		bulk("name"), bulk(r.Name),
		bulk("ip"), bulk(r.Addr.ResolvedIP),
		bulk("port"), bulk(strconv.Itoa(r.Addr.Port)),
		bulk("runid"), bulk(r.RunID),
		bulk("flags"), bulk(flagsString(r)),
		bulk("master-host"), bulk(r.MasterHost),
		bulk("master-port"), bulk(strconv.Itoa(r.MasterPort)),
		bulk("master-link-status"), bulk(r.MasterLinkStatus),
		bulk("slave-priority"), bulk(strconv.Itoa(r.SlavePriority)),
		bulk("slave-repl-offset"), bulk(strconv.FormatInt(r.ReplOffset, 10)),
	)
}

func peerFields(p *Instance) RESPValue {
	return array(
		bulk("name"), bulk(p.RunID),
		bulk("ip"), bulk(p.Addr.ResolvedIP),
		bulk("port"), bulk(strconv.Itoa(p.Addr.Port)),
		bulk("runid"), bulk(p.RunID),
		bulk("flags"), bulk(flagsString(p)),
	)
}

// infoText renders the `# Sentinel` INFO section (spec.md §6): one
// masterN line per monitored master, the same shape redis-sentinel
// emits. Only ever called on the actor goroutine.
func (s *Sentinel) infoText() string {
	var b strings.Builder
	b.WriteString("# Sentinel\r\n")
	b.WriteString("sentinel_masters:" + strconv.Itoa(len(s.masters)) + "\r\n")
	tilt := "0"
	if s.tilt {
		tilt = "1"
	}
	b.WriteString("sentinel_tilt:" + tilt + "\r\n")
	b.WriteString("sentinel_running_scripts:" + strconv.Itoa(s.scripts.pending()) + "\r\n")
	i := 0
	for name, m := range s.masters {
		status := "ok"
		if m.Flags.Has(FlagODown) {
			status = "odown"
		} else if m.Flags.Has(FlagSDown) {
			status = "sdown"
		}
		b.WriteString(fmt.Sprintf("master%d:name=%s,status=%s,address=%s,slaves=%d,sentinels=%d\r\n",
			i, name, status, m.Addr, len(m.Replicas), len(m.PeerSentinels)+1))
		i++
	}
	return b.String()
}

func flagsString(i *Instance) string {
	var parts []string
	switch {
	case i.IsMaster():
		parts = append(parts, "master")
	case i.IsSlave():
		parts = append(parts, "slave")
	case i.IsPeerSentinel():
		parts = append(parts, "sentinel")
	}
	if i.Flags.Has(FlagSDown) {
		parts = append(parts, "s_down")
	}
	if i.Flags.Has(FlagODown) {
		parts = append(parts, "o_down")
	}
	if i.Flags.Has(FlagFailoverInProgress) {
		parts = append(parts, "failover_in_progress")
	}
	if i.Flags.Has(FlagPromoted) {
		parts = append(parts, "promoted")
	}
	return strings.Join(parts, ",")
}

// matchGlob implements the glob subset `SENTINEL RESET <pattern>`
// accepts over master names: '*' matches any run (including empty),
// '?' matches exactly one character, everything else is literal.
func matchGlob(pattern, name string) bool {
	return globMatch(pattern, name)
}

func globMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	if pattern[0] == '*' {
		if globMatch(pattern[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if globMatch(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return false
	}
	if s == "" {
		return false
	}
	if pattern[0] == '?' || pattern[0] == s[0] {
		return globMatch(pattern[1:], s[1:])
	}
	return false
}
