package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/tkallio/rivet/config"
	"github.com/tkallio/rivet/engine"
)

// ---------------------------------------------------------------------------
// config.set / config.get: the live-settings mutator
// ---------------------------------------------------------------------------

// settingsKeys fixes the application order of config.set. Fields are
// applied independently in this order; the first invalid field aborts
// the remainder but earlier commits stand (deliberately non-atomic).
var settingsKeys = []string{
	"logging.level",
	"watchdog.enabled",
	"watchdog.timeout-ms",
	"watchdog.action",
	"fault.policy",
	"retain.save-interval-ms",
	"retain.mode",
	"web.enabled",
	"web.port",
	"web.auth",
	"discovery.enabled",
	"mesh.enabled",
	"control.endpoint",
	"control.mode",
	"control.auth-token",
}

// coldKeys take effect only after restart.
var coldKeys = map[string]bool{
	"retain.mode":        true,
	"web.enabled":        true,
	"web.port":           true,
	"web.auth":           true,
	"discovery.enabled":  true,
	"mesh.enabled":       true,
	"control.endpoint":   true,
	"control.mode":       true,
	"control.auth-token": true,
}

func handleConfigSet(s *ControlState, params json.RawMessage) (interface{}, error) {
	var fields map[string]interface{}
	if err := decodeParams(params, &fields); err != nil {
		return nil, err
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	var applied []string
	for _, key := range settingsKeys {
		raw, present := fields[key]
		if !present {
			continue
		}
		if err := s.applySetting(key, raw); err != nil {
			// Earlier commits stand; report the failure with what
			// did apply so the client can reconcile.
			return nil, fmt.Errorf("%s: %s (applied: %d of %d)", key, err.Error(), len(applied), countKnown(fields))
		}
		applied = append(applied, key)
		if coldKeys[key] {
			s.noteRestartRequired(key)
		}
	}

	if applied == nil {
		applied = []string{}
	}
	return map[string]interface{}{
		"applied":          applied,
		"restart_required": append([]string{}, s.pendingRestart...),
	}, nil
}

func countKnown(fields map[string]interface{}) int {
	n := 0
	for _, key := range settingsKeys {
		if _, ok := fields[key]; ok {
			n++
		}
	}
	return n
}

// applySetting validates and applies one dotted key. Caller holds
// settingsMu. Live keys are pushed to the execution loop as explicit
// commands; cold keys only update the recorded settings.
func (s *ControlState) applySetting(key string, raw interface{}) error {
	switch key {
	case "logging.level":
		level, ok := raw.(string)
		if !ok {
			return errors.New("expected string")
		}
		max, err := parseLogLevel(level)
		if err != nil {
			return err
		}
		s.settings.Logging.Level = level
		commonlog.SetMaxLevel(max)
		return nil

	case "watchdog.enabled":
		b, ok := raw.(bool)
		if !ok {
			return errors.New("expected boolean")
		}
		s.settings.Watchdog.Enabled = b
		s.pushWatchdog()
		return nil

	case "watchdog.timeout-ms":
		n, ok := rawInt(raw)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		s.settings.Watchdog.TimeoutMs = n
		s.pushWatchdog()
		return nil

	case "watchdog.action":
		str, ok := raw.(string)
		if !ok {
			return errors.New("expected string")
		}
		action, err := config.ParseWatchdogAction(str)
		if err != nil {
			return err
		}
		s.settings.Watchdog.Action = action
		s.pushWatchdog()
		return nil

	case "fault.policy":
		str, ok := raw.(string)
		if !ok {
			return errors.New("expected string")
		}
		policy, err := config.ParseFaultPolicy(str)
		if err != nil {
			return err
		}
		s.settings.Fault.Policy = policy
		s.Exec.Send(engine.UpdateFaultPolicy{Policy: policy})
		return nil

	case "retain.save-interval-ms":
		n, ok := rawInt(raw)
		if !ok || n <= 0 {
			return errors.New("expected positive integer")
		}
		s.settings.Retain.SaveIntervalMs = n
		s.Exec.Send(engine.UpdateRetainSaveInterval{
			Interval: time.Duration(n) * time.Millisecond,
		})
		return nil

	case "retain.mode":
		str, ok := raw.(string)
		if !ok {
			return errors.New("expected string")
		}
		mode, err := config.ParseRetainMode(str)
		if err != nil {
			return err
		}
		s.settings.Retain.Mode = mode
		return nil

	case "web.enabled":
		b, ok := raw.(bool)
		if !ok {
			return errors.New("expected boolean")
		}
		s.settings.Web.Enabled = b
		return nil

	case "web.port":
		n, ok := rawInt(raw)
		if !ok || n < 1 || n > 65535 {
			return errors.New("expected port number")
		}
		s.settings.Web.Port = n
		return nil

	case "web.auth":
		str, ok := raw.(string)
		if !ok {
			return errors.New("expected string")
		}
		switch str {
		case "none":
		case "token":
			if s.AuthToken() == "" {
				return errors.New(`web.auth="token" requires a configured auth token`)
			}
		default:
			return fmt.Errorf("invalid web auth mode %q", str)
		}
		s.settings.Web.Auth = str
		return nil

	case "discovery.enabled":
		b, ok := raw.(bool)
		if !ok {
			return errors.New("expected boolean")
		}
		s.settings.Discovery.Enabled = b
		return nil

	case "mesh.enabled":
		b, ok := raw.(bool)
		if !ok {
			return errors.New("expected boolean")
		}
		s.settings.Mesh.Enabled = b
		return nil

	case "control.endpoint":
		str, ok := raw.(string)
		if !ok {
			return errors.New("expected string")
		}
		if _, _, err := config.ParseEndpoint(str); err != nil {
			return err
		}
		s.settings.Control.Endpoint = str
		return nil

	case "control.mode":
		str, ok := raw.(string)
		if !ok {
			return errors.New("expected string")
		}
		if _, valid := ParseMode(str); !valid {
			return fmt.Errorf("invalid control mode %q", str)
		}
		s.settings.Control.Mode = str
		return nil

	case "control.auth-token":
		str, ok := raw.(string)
		if !ok {
			return errors.New("expected string")
		}
		if str == "" && config.EndpointMandatesToken(s.settings.Control.Endpoint) {
			return errors.New("cannot clear auth token: transport requires one")
		}
		s.settings.Control.AuthToken = str
		return nil
	}
	return fmt.Errorf("unknown key %q", key)
}

// pushWatchdog sends the full current watchdog config as one command.
// Caller holds settingsMu.
func (s *ControlState) pushWatchdog() {
	w := s.settings.Watchdog
	s.Exec.Send(engine.UpdateWatchdog{
		Enabled: w.Enabled,
		Timeout: time.Duration(w.TimeoutMs) * time.Millisecond,
		Action:  w.Action,
	})
}

func rawInt(raw interface{}) (int, bool) {
	f, ok := raw.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func parseLogLevel(s string) (commonlog.Level, error) {
	switch s {
	case "critical":
		return commonlog.Critical, nil
	case "error":
		return commonlog.Error, nil
	case "warning":
		return commonlog.Warning, nil
	case "notice":
		return commonlog.Notice, nil
	case "info":
		return commonlog.Info, nil
	case "debug":
		return commonlog.Debug, nil
	}
	return commonlog.None, fmt.Errorf("invalid log level %q", s)
}

// handleConfigGet mirrors the settings read side. The auth token is
// redacted: only presence and length are reported. A concurrent
// config.set may interleave, so unrelated fields can mix old and new
// values; each field is individually consistent.
func handleConfigGet(s *ControlState, params json.RawMessage) (interface{}, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	c := s.settings

	token := s.AuthToken()
	return map[string]interface{}{
		"logging": map[string]interface{}{
			"level": c.Logging.Level,
		},
		"watchdog": map[string]interface{}{
			"enabled":    c.Watchdog.Enabled,
			"timeout-ms": c.Watchdog.TimeoutMs,
			"action":     string(c.Watchdog.Action),
		},
		"fault": map[string]interface{}{
			"policy": string(c.Fault.Policy),
		},
		"retain": map[string]interface{}{
			"mode":             string(c.Retain.Mode),
			"save-interval-ms": c.Retain.SaveIntervalMs,
		},
		"web": map[string]interface{}{
			"enabled": c.Web.Enabled,
			"port":    c.Web.Port,
			"auth":    c.Web.Auth,
		},
		"discovery": map[string]interface{}{
			"enabled": c.Discovery.Enabled,
		},
		"mesh": map[string]interface{}{
			"enabled": c.Mesh.Enabled,
			"peers":   append([]string{}, c.Mesh.Peers...),
		},
		"control": map[string]interface{}{
			"endpoint":       c.Control.Endpoint,
			"mode":           c.Control.Mode,
			"auth_token_set": token != "",
			"auth_token_len": len(token),
		},
		"restart_required": append([]string{}, s.pendingRestart...),
	}, nil
}
