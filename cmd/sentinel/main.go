package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"sentinel/internal/server"
	"sentinel/internal/sentinel"
)

func main() {
	port := flag.Int("port", 26379, "port for this Sentinel to listen on")
	configPath := flag.String("config", "sentinel.conf", "path to the persisted Sentinel config file")
	announceIP := flag.String("announce-ip", "", "IP announced to other Sentinels over Hello (defaults to the listening address)")
	announcePort := flag.Int("announce-port", 0, "port announced to other Sentinels over Hello (defaults to -port)")
	sentinelUser := flag.String("sentinel-user", "", "username required of clients issuing AUTH")
	sentinelPass := flag.String("sentinel-pass", "", "password required of clients issuing AUTH")
	resolveHostnames := flag.Bool("resolve-hostnames", false, "resolve configured hostnames to IPs instead of using them verbatim")
	announceHostnames := flag.Bool("announce-hostnames", false, "announce hostnames instead of resolved IPs over Hello")
	monitor := flag.String("monitor", "", "bootstrap a master to watch on first start: name,host,port,quorum")
	flag.Parse()

	if *announcePort == 0 {
		*announcePort = *port
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg := sentinel.Config{
		Port:              *port,
		ConfigPath:        *configPath,
		AnnounceIP:        *announceIP,
		AnnouncePort:      *announcePort,
		SentinelUser:      *sentinelUser,
		SentinelPass:      *sentinelPass,
		ResolveHostnames:  *resolveHostnames,
		AnnounceHostnames: *announceHostnames,
	}

	core := sentinel.NewSentinel(cfg, "", logger)
	if err := core.LoadConfig(); err != nil {
		logger.Fatalf("[sentinel] failed to load %s: %v", *configPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	if *monitor != "" {
		if err := runMonitorFlag(core, *monitor); err != nil {
			logger.Fatalf("[sentinel] -monitor %q: %v", *monitor, err)
		}
	}

	srvCfg := server.DefaultSentinelConfig()
	srvCfg.Port = *port
	srvCfg.ConfigPath = *configPath
	srv := server.NewSentinelServer(srvCfg, core, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("[sentinel] shutting down")
		cancel()
		srv.Shutdown()
	}()

	logger.Printf("[sentinel] myid %s", core.MyID())
	if err := srv.Start(ctx); err != nil {
		logger.Fatalf("[sentinel] %v", err)
	}
}

// runMonitorFlag lets a freshly-started Sentinel begin watching a
// master from the command line, the same request shape a client would
// send as `SENTINEL MONITOR name host port quorum`, routed through the
// actor exactly like a wire command would be.
func runMonitorFlag(core *sentinel.Sentinel, spec string) error {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return fmt.Errorf("expected name,host,port,quorum")
	}
	if _, err := strconv.Atoi(parts[2]); err != nil {
		return fmt.Errorf("invalid port %q", parts[2])
	}
	if _, err := strconv.Atoi(parts[3]); err != nil {
		return fmt.Errorf("invalid quorum %q", parts[3])
	}
	reply := core.Dispatch("MONITOR", parts)
	if reply.IsError() {
		return fmt.Errorf("%s", reply.Str)
	}
	return nil
}
