package sentinel

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// peerConn is a single RESP connection to a monitored master, replica,
// or peer Sentinel. It is deliberately thin: Sentinel only ever issues
// PING, INFO, PUBLISH, SUBSCRIBE, AUTH, CLIENT SETNAME, SENTINEL
// IS-MASTER-DOWN-BY-ADDR, and the SLAVEOF/transaction sequence used by the failover driver (spec.md §1
// excludes the full client protocol/async library; this is the
// "contract it needs" instead).
type peerConn struct {
	conn      net.Conn
	reader    *bufio.Reader
	createdAt time.Time
}

const dialTimeout = 2 * time.Second

func dialPeer(addr string) (*peerConn, error) {
	c, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &peerConn{conn: c, reader: bufio.NewReader(c), createdAt: time.Now()}, nil
}

func (p *peerConn) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// do writes one command and reads exactly one reply, with a deadline
// derived from the caller's budget.
func (p *peerConn) do(timeout time.Duration, args ...string) (RESPValue, error) {
	p.conn.SetDeadline(time.Now().Add(timeout))
	if _, err := p.conn.Write(EncodeCommand(args...)); err != nil {
		return RESPValue{}, fmt.Errorf("write %v: %w", args, err)
	}
	v, err := ReadReply(p.reader)
	if err != nil {
		return RESPValue{}, fmt.Errorf("read reply to %v: %w", args, err)
	}
	return v, nil
}

// sendOnly writes a command without waiting for (or expecting) a
// reply to be consumed synchronously; used for PUBLISH on the hello
// channel, where replies are just an integer subscriber count that
// the prober doesn't need to act on.
func (p *peerConn) sendOnly(timeout time.Duration, args ...string) error {
	p.conn.SetDeadline(time.Now().Add(timeout))
	_, err := p.conn.Write(EncodeCommand(args...))
	return err
}

func (p *peerConn) authenticate(user, pass string) error {
	if pass == "" {
		return nil
	}
	var v RESPValue
	var err error
	if user != "" {
		v, err = p.do(dialTimeout, "AUTH", user, pass)
	} else {
		v, err = p.do(dialTimeout, "AUTH", pass)
	}
	if err != nil {
		return err
	}
	if v.IsError() {
		return fmt.Errorf("AUTH failed: %s", v.Str)
	}
	return nil
}

// transactionalSlaveof runs the MULTI/SLAVEOF/CONFIG REWRITE/CLIENT
// KILL/EXEC sequence spec.md §4.6 state 5 uses to point a replica at
// the new master.
func (p *peerConn) transactionalSlaveof(timeout time.Duration, host string, port int) error {
	return p.runSlaveofTransaction(timeout, host, fmt.Sprintf("%d", port))
}

// transactionalSlaveofNoOne runs the same sequence with SLAVEOF NO ONE,
// spec.md §4.6 state 3's promotion step.
func (p *peerConn) transactionalSlaveofNoOne(timeout time.Duration) error {
	return p.runSlaveofTransaction(timeout, "NO", "ONE")
}

func (p *peerConn) runSlaveofTransaction(timeout time.Duration, slaveofArgs ...string) error {
	cmds := [][]string{
		{"MULTI"},
		append([]string{"SLAVEOF"}, slaveofArgs...),
		{"CONFIG", "REWRITE"},
		{"CLIENT", "KILL", "TYPE", "normal"},
		{"CLIENT", "KILL", "TYPE", "pubsub"},
		{"EXEC"},
	}
	for _, c := range cmds {
		v, err := p.do(timeout, c...)
		if err != nil {
			return err
		}
		if v.IsError() && c[0] != "EXEC" {
			// queue errors surface on EXEC, not on MULTI/queued commands
			return fmt.Errorf("%s: %s", c[0], v.Str)
		}
	}
	return nil
}
