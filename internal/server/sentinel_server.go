package server

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sentinel/internal/eventbus"
	"sentinel/internal/protocol"
	"sentinel/internal/sentinel"
)

// SentinelServer is the wire-protocol front end of one Sentinel
// process: it accepts RESP connections from ordinary clients (for
// SENTINEL queries and failover-event subscriptions) and from peer
// Sentinels (SENTINEL IS-MASTER-DOWN-BY-ADDR, PING), and turns every
// SENTINEL command into a sentinel.Dispatch call so the actor goroutine
// in internal/sentinel remains the sole owner of registry state. PING,
// HELLO, AUTH, PUBLISH and (P)SUBSCRIBE are answered without the actor.
type SentinelServer struct {
	config   *SentinelConfig
	listener net.Listener
	core     *sentinel.Sentinel
	logger   *log.Logger

	connections     sync.Map
	connIDCounter   atomic.Int64
	activeConnCount atomic.Int64
	wg              sync.WaitGroup

	mu         sync.RWMutex
	isShutdown bool
	shutdownCh chan struct{}
}

// NewSentinelServer wires a fresh sentinel.Sentinel actor to a
// listener. The actor's own Run loop is started by the caller
// (cmd/sentinel/main.go), matching spec.md §5: the server reaches
// registry state only through Dispatch (see api.go for the few direct
// calls that do not touch it).
func NewSentinelServer(cfg *SentinelConfig, core *sentinel.Sentinel, logger *log.Logger) *SentinelServer {
	if cfg == nil {
		cfg = DefaultSentinelConfig()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SentinelServer{
		config:     cfg,
		core:       core,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

func (s *SentinelServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.listener = listener
	s.logger.Printf("[sentinel] listening on %s", addr)

	go s.acceptConnections(ctx)

	<-ctx.Done()
	return nil
}

func (s *SentinelServer) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				s.mu.RLock()
				down := s.isShutdown
				s.mu.RUnlock()
				if down {
					return
				}
				s.logger.Printf("[sentinel] accept error: %v", err)
				continue
			}
			if s.config.MaxConnections > 0 && s.activeConnCount.Load() >= int64(s.config.MaxConnections) {
				conn.Close()
				continue
			}
			s.wg.Add(1)
			go s.handleConnection(ctx, conn)
		}
	}
}

func (s *SentinelServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	connID := s.connIDCounter.Add(1)
	s.activeConnCount.Add(1)
	defer s.activeConnCount.Add(-1)

	s.connections.Store(connID, conn)
	defer s.connections.Delete(connID)
	defer conn.Close()

	c := &clientConn{
		srv:  s,
		conn: conn,
		sub:  &eventbus.Subscriber{ID: fmt.Sprintf("client-%d", connID), Channels: make(chan *eventbus.Message, 64)},
	}
	defer s.core.Unsubscribe(c.sub.ID)
	c.serve(ctx)
}

func (s *SentinelServer) Shutdown() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	close(s.shutdownCh)
	if s.listener != nil {
		s.listener.Close()
	}
	s.connections.Range(func(_, v interface{}) bool {
		if conn, ok := v.(net.Conn); ok {
			conn.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Printf("[sentinel] shutdown timeout, forcing exit")
	}
}

// clientConn serves one connection: request/reply for everything
// except SUBSCRIBE/PSUBSCRIBE, which switches the connection into a
// push loop for the lifetime of the subscription (spec.md §7's
// "clients subscribe ... to learn about a failover").
type clientConn struct {
	srv        *SentinelServer
	conn       net.Conn
	sub        *eventbus.Subscriber
	subscribed bool
}

func (c *clientConn) serve(ctx context.Context) {
	reader := bufio.NewReader(c.conn)
	writer := bufio.NewWriter(c.conn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.srv.shutdownCh:
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		cmd, err := protocol.ParseCommand(reader)
		if err != nil {
			return
		}
		if len(cmd.Args) == 0 {
			continue
		}
		name := strings.ToUpper(cmd.Args[0])
		switch name {
		case "SUBSCRIBE", "PSUBSCRIBE":
			c.handleSubscribe(ctx, writer, name, cmd.Args[1:])
			continue
		}
		reply := c.dispatch(name, cmd.Args[1:])
		writer.Write(reply)
		writer.Flush()
	}
}

// handleSubscribe services one SUBSCRIBE/PSUBSCRIBE call and then
// blocks delivering messages until the client disconnects, the way a
// client watching __sentinel__:+switch-master would per spec.md §7.
func (c *clientConn) handleSubscribe(ctx context.Context, writer *bufio.Writer, name string, channels []string) {
	var acked []string
	if name == "SUBSCRIBE" {
		acked = c.srv.core.Subscribe(c.sub.ID, c.sub, channels...)
	} else {
		acked = c.srv.core.PSubscribe(c.sub.ID, c.sub, channels...)
	}
	c.subscribed = true
	for i, ch := range acked {
		writer.Write(protocol.EncodeRawArray([][]byte{
			protocol.EncodeBulkString(strings.ToLower(name)),
			protocol.EncodeBulkString(ch),
			protocol.EncodeInteger(i + 1),
		}))
	}
	writer.Flush()

	c.conn.SetReadDeadline(time.Time{})
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.srv.shutdownCh:
			return
		case msg, ok := <-c.sub.Channels:
			if !ok {
				return
			}
			writer.Write(encodePubsubMessage(msg))
			if err := writer.Flush(); err != nil {
				return
			}
		}
	}
}

func encodePubsubMessage(msg *eventbus.Message) []byte {
	if msg.Type == "pmessage" {
		return protocol.EncodeRawArray([][]byte{
			protocol.EncodeBulkString("pmessage"),
			protocol.EncodeBulkString(msg.Pattern),
			protocol.EncodeBulkString(msg.Channel),
			protocol.EncodeBulkString(msg.Payload),
		})
	}
	return protocol.EncodeRawArray([][]byte{
		protocol.EncodeBulkString("message"),
		protocol.EncodeBulkString(msg.Channel),
		protocol.EncodeBulkString(msg.Payload),
	})
}

func (c *clientConn) dispatch(name string, args []string) []byte {
	switch name {
	case "PING":
		return protocol.EncodeSimpleString("PONG")
	case "HELLO":
		return protocol.EncodeSimpleString("OK")
	case "AUTH":
		return c.handleAuth(args)
	case "PUBLISH":
		if len(args) != 2 {
			return protocol.EncodeError("ERR wrong number of arguments for 'publish' command")
		}
		return protocol.EncodeInteger(c.srv.core.Publish(args[0], args[1]))
	case "SENTINEL":
		if len(args) == 0 {
			return protocol.EncodeError("ERR wrong number of arguments for 'sentinel' command")
		}
		return encodeRESP(c.srv.core.Dispatch(args[0], args[1:]))
	case "ROLE":
		return c.handleRole()
	case "INFO":
		return protocol.EncodeBulkString(c.srv.core.InfoText())
	case "SHUTDOWN":
		return protocol.EncodeError("ERR use SIGTERM to stop a sentinel process")
	default:
		return protocol.EncodeError(fmt.Sprintf("ERR unknown command '%s'", name))
	}
}

func (c *clientConn) handleAuth(args []string) []byte {
	if !c.srv.core.RequiresAuth() {
		return protocol.EncodeError("ERR Client sent AUTH, but no password is set")
	}
	pass := ""
	user := ""
	switch len(args) {
	case 1:
		pass = args[0]
	case 2:
		user, pass = args[0], args[1]
	default:
		return protocol.EncodeError("ERR wrong number of arguments for 'auth' command")
	}
	if !c.srv.core.CheckAuth(user, pass) {
		return protocol.EncodeError("WRONGPASS invalid username-password pair")
	}
	return protocol.EncodeSimpleString("OK")
}

func (c *clientConn) handleRole() []byte {
	return protocol.EncodeRawArray([][]byte{
		protocol.EncodeBulkString("sentinel"),
		protocol.EncodeRawArray(c.srv.core.MasterNamesRESP()),
	})
}

// encodeRESP renders a sentinel.RESPValue onto the wire using
// internal/protocol's primitives, the one place these two codecs meet.
func encodeRESP(v sentinel.RESPValue) []byte {
	switch v.Kind {
	case '+':
		return protocol.EncodeSimpleString(v.Str)
	case '-':
		return protocol.EncodeError(v.Str)
	case ':':
		return protocol.EncodeInteger64(v.Int)
	case '$':
		if v.Null {
			return protocol.EncodeNullBulkString()
		}
		return protocol.EncodeBulkString(v.Str)
	case '*':
		if v.Null {
			return protocol.EncodeNilArray()
		}
		items := make([][]byte, len(v.Array))
		for i, item := range v.Array {
			items[i] = encodeRESP(item)
		}
		return protocol.EncodeRawArray(items)
	default:
		return protocol.EncodeError("ERR internal encoding error")
	}
}
