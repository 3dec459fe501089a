package sentinel

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// configStore persists the directive-based config file of spec.md §6:
// "Writes use write-temp-then-atomic-rename followed by fsync.
// Persistence is required before responding to any message whose
// semantics depend on the new state." It is deliberately a thin text
// writer/reader, not a generic config framework — the directive set
// is fixed by the spec.
type configStore struct {
	path string
}

func newConfigStore(path string) *configStore {
	return &configStore{path: path}
}

// Load parses pre-monitor directives before any `monitor` line, then
// applies per-master directives to the masters created along the way,
// exactly mirroring how a real config file must be ordered.
func (c *configStore) Load(s *Sentinel) error {
	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var cur *Instance
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "sentinel" {
			continue
		}
		directive := fields[1]
		args := fields[2:]

		switch directive {
		case "myid":
			if len(args) == 1 {
				s.myID = args[0]
			}
		case "monitor":
			if len(args) != 4 {
				continue
			}
			port, _ := strconv.Atoi(args[2])
			quorum, _ := strconv.Atoi(args[3])
			addr, err := ResolveAddress(args[1], port, s.resolveHostnames)
			if err != nil {
				return fmt.Errorf("sentinel monitor %s: %w", args[0], err)
			}
			m, err := s.monitorMaster(args[0], addr, quorum)
			if err != nil {
				return err
			}
			cur = m
		case "current-epoch":
			if len(args) == 1 {
				n, _ := strconv.ParseInt(args[0], 10, 64)
				s.currentEpoch = n
			}
		case "announce-ip":
			if len(args) == 1 {
				s.announceIP = args[0]
			}
		case "announce-port":
			if len(args) == 1 {
				s.announcePort, _ = strconv.Atoi(args[0])
			}
		case "sentinel-user":
			if len(args) == 1 {
				s.sentinelUser = args[0]
			}
		case "sentinel-pass":
			if len(args) == 1 {
				s.sentinelPass = args[0]
			}
		case "resolve-hostnames":
			s.resolveHostnames = len(args) == 1 && args[0] == "yes"
		case "announce-hostnames":
			s.announceHostnames = len(args) == 1 && args[0] == "yes"
		case "deny-scripts-reconfig":
			s.denyScriptsReconfig = len(args) == 1 && args[0] == "yes"
		default:
			if err := applyMasterDirective(s, cur, directive, args); err != nil {
				return err
			}
		}
	}
	return scan.Err()
}

// applyMasterDirective handles every `sentinel <directive> <name> ...`
// line that targets a specific master by name (the name is always
// args[0] for these directives per spec.md §6).
func applyMasterDirective(s *Sentinel, cur *Instance, directive string, args []string) error {
	if len(args) == 0 {
		return nil
	}
	m, ok := s.masters[args[0]]
	if !ok {
		m = cur
	}
	if m == nil {
		return nil
	}
	rest := args[1:]
	switch directive {
	case "down-after-milliseconds":
		if len(rest) == 1 {
			m.DownAfterMs, _ = strconv.ParseInt(rest[0], 10, 64)
		}
	case "failover-timeout":
		if len(rest) == 1 {
			m.FailoverTimeoutMs, _ = strconv.ParseInt(rest[0], 10, 64)
		}
	case "parallel-syncs":
		if len(rest) == 1 {
			m.ParallelSyncs, _ = strconv.Atoi(rest[0])
		}
	case "notification-script":
		if len(rest) == 1 {
			m.NotificationScript = rest[0]
		}
	case "client-reconfig-script":
		if len(rest) == 1 {
			m.ClientReconfigScript = rest[0]
		}
	case "auth-pass":
		if len(rest) == 1 {
			m.AuthPass = rest[0]
		}
	case "auth-user":
		if len(rest) == 1 {
			m.AuthUser = rest[0]
		}
	case "rename-command":
		if len(rest) == 2 {
			if m.RenameCommand == nil {
				m.RenameCommand = make(map[string]string)
			}
			m.RenameCommand[strings.ToUpper(rest[0])] = rest[1]
		}
	case "current-epoch":
		// handled globally above; a per-master "current-epoch" line doesn't exist
	case "config-epoch":
		if len(rest) == 1 {
			m.ConfigEpoch, _ = strconv.ParseInt(rest[0], 10, 64)
		}
	case "leader-epoch":
		if len(rest) == 1 {
			m.LeaderEpoch, _ = strconv.ParseInt(rest[0], 10, 64)
		}
	case "known-replica":
		if len(rest) == 2 {
			port, _ := strconv.Atoi(rest[1])
			addr, err := ResolveAddress(rest[0], port, s.resolveHostnames)
			if err == nil {
				s.addReplica(m, addr)
			}
		}
	case "known-sentinel":
		if len(rest) == 3 {
			port, _ := strconv.Atoi(rest[1])
			addr, err := ResolveAddress(rest[0], port, s.resolveHostnames)
			if err == nil {
				s.addOrUpdatePeerSentinel(m, rest[2], addr)
			}
		}
	}
	return nil
}

// Save rewrites the entire config file atomically: write to a temp
// file in the same directory, fsync, then rename over the original
// (spec.md §5 "Shared resources": the config file is the only durable
// resource; writes use write-temp-then-atomic-rename followed by
// fsync).
func (c *configStore) Save(s *Sentinel) error {
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".sentinel-config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "sentinel myid %s\n", s.myID)
	fmt.Fprintf(w, "sentinel current-epoch %d\n", s.currentEpoch)
	if s.announceIP != "" {
		fmt.Fprintf(w, "sentinel announce-ip %s\n", s.announceIP)
	}
	if s.announcePort != 0 {
		fmt.Fprintf(w, "sentinel announce-port %d\n", s.announcePort)
	}
	if s.sentinelUser != "" {
		fmt.Fprintf(w, "sentinel sentinel-user %s\n", s.sentinelUser)
	}
	if s.sentinelPass != "" {
		fmt.Fprintf(w, "sentinel sentinel-pass %s\n", s.sentinelPass)
	}
	if s.resolveHostnames {
		fmt.Fprintf(w, "sentinel resolve-hostnames yes\n")
	}
	if s.announceHostnames {
		fmt.Fprintf(w, "sentinel announce-hostnames yes\n")
	}
	if s.denyScriptsReconfig {
		fmt.Fprintf(w, "sentinel deny-scripts-reconfig yes\n")
	}

	for name, m := range s.masters {
		fmt.Fprintf(w, "sentinel monitor %s %s %d %d\n", name, m.Addr.ResolvedIP, m.Addr.Port, m.Quorum)
		fmt.Fprintf(w, "sentinel down-after-milliseconds %s %d\n", name, m.DownAfterMs)
		fmt.Fprintf(w, "sentinel failover-timeout %s %d\n", name, m.FailoverTimeoutMs)
		fmt.Fprintf(w, "sentinel parallel-syncs %s %d\n", name, m.ParallelSyncs)
		fmt.Fprintf(w, "sentinel config-epoch %s %d\n", name, m.ConfigEpoch)
		fmt.Fprintf(w, "sentinel leader-epoch %s %d\n", name, m.LeaderEpoch)
		if m.NotificationScript != "" {
			fmt.Fprintf(w, "sentinel notification-script %s %s\n", name, m.NotificationScript)
		}
		if m.ClientReconfigScript != "" {
			fmt.Fprintf(w, "sentinel client-reconfig-script %s %s\n", name, m.ClientReconfigScript)
		}
		if m.AuthUser != "" {
			fmt.Fprintf(w, "sentinel auth-user %s %s\n", name, m.AuthUser)
		}
		if m.AuthPass != "" {
			fmt.Fprintf(w, "sentinel auth-pass %s %s\n", name, m.AuthPass)
		}
		for from, to := range m.RenameCommand {
			fmt.Fprintf(w, "sentinel rename-command %s %s %s\n", name, from, to)
		}
		for _, r := range m.Replicas {
			fmt.Fprintf(w, "sentinel known-replica %s %s %d\n", name, r.Addr.ResolvedIP, r.Addr.Port)
		}
		for _, p := range m.PeerSentinels {
			fmt.Fprintf(w, "sentinel known-sentinel %s %s %d %s\n", name, p.Addr.ResolvedIP, p.Addr.Port, p.RunID)
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, c.path)
}
