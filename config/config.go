// Package config handles rivet.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// WatchdogAction is what the loop does when a cycle overruns the
// watchdog timeout.
type WatchdogAction string

const (
	WatchdogLog     WatchdogAction = "log"
	WatchdogPause   WatchdogAction = "pause"
	WatchdogHalt    WatchdogAction = "halt"
	WatchdogRestart WatchdogAction = "restart"
)

// ParseWatchdogAction validates a watchdog action name.
func ParseWatchdogAction(s string) (WatchdogAction, error) {
	switch WatchdogAction(s) {
	case WatchdogLog, WatchdogPause, WatchdogHalt, WatchdogRestart:
		return WatchdogAction(s), nil
	}
	return "", fmt.Errorf("invalid watchdog action %q", s)
}

// FaultPolicy is what the loop does after a program fault.
type FaultPolicy string

const (
	FaultHalt    FaultPolicy = "halt"
	FaultResume  FaultPolicy = "resume"
	FaultRestart FaultPolicy = "restart"
)

// ParseFaultPolicy validates a fault policy name.
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch FaultPolicy(s) {
	case FaultHalt, FaultResume, FaultRestart:
		return FaultPolicy(s), nil
	}
	return "", fmt.Errorf("invalid fault policy %q", s)
}

// RetainMode selects how retain memory is persisted.
type RetainMode string

const (
	RetainOff      RetainMode = "off"
	RetainCyclic   RetainMode = "cyclic"
	RetainOnChange RetainMode = "on_change"
)

// ParseRetainMode validates a retain mode name.
func ParseRetainMode(s string) (RetainMode, error) {
	switch RetainMode(s) {
	case RetainOff, RetainCyclic, RetainOnChange:
		return RetainMode(s), nil
	}
	return "", fmt.Errorf("invalid retain mode %q", s)
}

// Logging configures the runtime logger.
type Logging struct {
	Level string `toml:"level"`
}

// Watchdog configures the cycle watchdog.
type Watchdog struct {
	Enabled   bool           `toml:"enabled"`
	TimeoutMs int            `toml:"timeout-ms"`
	Action    WatchdogAction `toml:"action"`
}

// Fault configures fault handling.
type Fault struct {
	Policy FaultPolicy `toml:"policy"`
}

// Retain configures retain-memory persistence.
type Retain struct {
	Mode           RetainMode `toml:"mode"`
	SaveIntervalMs int        `toml:"save-interval-ms"`
	Path           string     `toml:"path"`
}

// Web configures the embedded HMI web server (cold).
type Web struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	Auth    string `toml:"auth"` // "none" or "token"
}

// Discovery configures network discovery (cold).
type Discovery struct {
	Enabled bool `toml:"enabled"`
}

// Mesh configures peer-runtime networking (cold).
type Mesh struct {
	Enabled bool     `toml:"enabled"`
	Peers   []string `toml:"peers"`
}

// Control configures the control/debug service (cold except the
// debug-enabled flag, which is runtime state, not configuration).
type Control struct {
	Endpoint  string `toml:"endpoint"`
	Mode      string `toml:"mode"` // "production" or "debug"
	AuthToken string `toml:"auth-token"`
}

// Settings is the full rivet.toml document.
type Settings struct {
	Logging   Logging   `toml:"logging"`
	Watchdog  Watchdog  `toml:"watchdog"`
	Fault     Fault     `toml:"fault"`
	Retain    Retain    `toml:"retain"`
	Web       Web       `toml:"web"`
	Discovery Discovery `toml:"discovery"`
	Mesh      Mesh      `toml:"mesh"`
	Control   Control   `toml:"control"`
}

// Default returns settings for a bare runtime.
func Default() *Settings {
	return &Settings{
		Logging:  Logging{Level: "info"},
		Watchdog: Watchdog{Enabled: false, TimeoutMs: 200, Action: WatchdogLog},
		Fault:    Fault{Policy: FaultHalt},
		Retain:   Retain{Mode: RetainOff, SaveIntervalMs: 10000, Path: "retain.cbor"},
		Web:      Web{Enabled: false, Port: 8080, Auth: "none"},
		Control:  Control{Endpoint: "tcp://127.0.0.1:4830", Mode: "production"},
	}
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	out := *s
	out.Mesh.Peers = append([]string(nil), s.Mesh.Peers...)
	return &out
}

// Load parses a rivet.toml file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	s := Default()
	if err := toml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings back to a rivet.toml file.
func (s *Settings) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(s)
}

// ParseEndpoint validates a control endpoint and splits it into a
// network and address usable with net.Listen. Accepted forms are
// tcp://host:port with a loopback host, or a local socket path
// (unix://path or a bare filesystem path).
func ParseEndpoint(s string) (network, addr string, err error) {
	switch {
	case strings.HasPrefix(s, "tcp://"):
		hostport := strings.TrimPrefix(s, "tcp://")
		host, _, ok := strings.Cut(hostport, ":")
		if !ok || host == "" {
			return "", "", fmt.Errorf("bad endpoint syntax %q", s)
		}
		if host != "127.0.0.1" && host != "localhost" && host != "::1" {
			return "", "", fmt.Errorf("endpoint host must be loopback, got %q", host)
		}
		return "tcp", hostport, nil
	case strings.HasPrefix(s, "unix://"):
		path := strings.TrimPrefix(s, "unix://")
		if path == "" {
			return "", "", fmt.Errorf("bad endpoint syntax %q", s)
		}
		return "unix", path, nil
	case strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./"):
		return "unix", s, nil
	}
	return "", "", fmt.Errorf("bad endpoint syntax %q", s)
}

// EndpointMandatesToken reports whether the configured transport
// requires an auth token. TCP endpoints do, even loopback ones; local
// sockets rely on filesystem permissions.
func EndpointMandatesToken(endpoint string) bool {
	return strings.HasPrefix(endpoint, "tcp://")
}
