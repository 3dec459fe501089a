package sentinel

import (
	"fmt"
	"net"
)

// Address identifies one network endpoint: the hostname as configured
// or announced, the IP it last resolved to, and a port. A port of 0
// means "invalid, do not connect" (spec.md §3).
type Address struct {
	Hostname   string
	ResolvedIP string
	Port       int
}

// Equal reports whether two addresses name the same peer. Equality is
// defined on resolved IP and port, never on hostname spelling.
func (a Address) Equal(b Address) bool {
	return a.Port != 0 && b.Port != 0 && a.ResolvedIP == b.ResolvedIP && a.Port == b.Port
}

func (a Address) Valid() bool {
	return a.Port != 0 && a.ResolvedIP != ""
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.ResolvedIP, a.Port)
}

// ResolveAddress resolves hostname to an IP and builds an Address.
// resolveHostnames mirrors the "sentinel resolve-hostnames" directive:
// when false, the hostname is only resolved once and re-used verbatim
// as the "resolved" IP if it already looks like an IP literal.
func ResolveAddress(hostname string, port int, resolveHostnames bool) (Address, error) {
	if port <= 0 {
		return Address{Hostname: hostname, Port: 0}, fmt.Errorf("invalid port %d", port)
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return Address{Hostname: hostname, ResolvedIP: ip.String(), Port: port}, nil
	}
	if !resolveHostnames {
		return Address{Hostname: hostname, ResolvedIP: hostname, Port: port}, nil
	}
	ips, err := net.LookupIP(hostname)
	if err != nil || len(ips) == 0 {
		return Address{Hostname: hostname, Port: 0}, fmt.Errorf("resolve %s: %w", hostname, err)
	}
	return Address{Hostname: hostname, ResolvedIP: ips[0].String(), Port: port}, nil
}
