package server

// SentinelConfig holds the startup configuration for a standalone
// Sentinel process: the listener it binds for the SENTINEL wire
// protocol, plus the handful of pre-monitor directives a config file
// may also carry (the rest of the persisted directives, one per
// monitored master, are loaded by sentinel.Sentinel.LoadConfig once
// the actor exists).
type SentinelConfig struct {
	Host              string
	Port              int
	ConfigPath        string
	MaxConnections    int
	AnnounceIP        string
	AnnouncePort      int
	SentinelUser      string
	SentinelPass      string
	ResolveHostnames  bool
	AnnounceHostnames bool
}

// DefaultSentinelConfig returns the defaults the teacher's standalone
// Sentinel process shipped with, narrowed to what the actor-based
// rewrite still needs at startup.
func DefaultSentinelConfig() *SentinelConfig {
	return &SentinelConfig{
		Host:           "0.0.0.0",
		Port:           26379,
		ConfigPath:     "sentinel.conf",
		MaxConnections: 10000,
	}
}
