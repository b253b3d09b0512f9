package control

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tkallio/rivet/engine"
)

// ErrReloadTimeout is returned when the execution loop does not
// acknowledge a bytecode reload in time.
var ErrReloadTimeout = errors.New("bytecode reload timed out")

// reloadTimeout bounds the rendezvous with the execution loop. On
// timeout the request fails with no rollback guarantee; reload
// atomicity is the loop's concern.
const reloadTimeout = 5 * time.Second

// ---------------------------------------------------------------------------
// status / control.debug
// ---------------------------------------------------------------------------

func handleStatus(s *ControlState, params json.RawMessage) (interface{}, error) {
	s.metaMu.Lock()
	name, version, started := s.name, s.version, s.startedAt
	s.metaMu.Unlock()

	result := map[string]interface{}{
		"name":          name,
		"version":       version,
		"uptime_ms":     time.Since(started).Milliseconds(),
		"state":         s.Exec.State().String(),
		"mode":          s.ControlMode().String(),
		"debug_enabled": s.DebugEnabled(),
	}
	if lastErr := s.Exec.LastError(); lastErr != "" {
		result["last_error"] = lastErr
	}
	return result, nil
}

// handleControlDebug flips the debug-enabled gate. It is deliberately
// not a debug-category type: it must be reachable while the gate is
// closed.
func handleControlDebug(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s.SetDebugEnabled(p.Enabled)
	if !p.Enabled {
		// Closing the gate tears down debug state so a later session
		// starts clean.
		s.Debug.ClearAllBreakpoints()
		_ = s.Debug.ApplyAction(engine.ActionContinue)
	}
	log.Infof("debug gate %s", map[bool]string{true: "opened", false: "closed"}[p.Enabled])
	return map[string]interface{}{"debug_enabled": p.Enabled}, nil
}

// ---------------------------------------------------------------------------
// pause / resume / step: the execution-mode state machine
// ---------------------------------------------------------------------------

// handlePause routes per mode: Production pauses the whole resource,
// Debug pauses the single-frame controller.
func handlePause(s *ControlState, params json.RawMessage) (interface{}, error) {
	switch s.ControlMode() {
	case ModeDebug:
		if err := s.Debug.ApplyAction(engine.ActionPause); err != nil {
			return nil, err
		}
	default:
		s.Exec.Pause()
	}
	return map[string]interface{}{"state": "paused"}, nil
}

func handleResume(s *ControlState, params json.RawMessage) (interface{}, error) {
	switch s.ControlMode() {
	case ModeDebug:
		if err := s.Debug.ApplyAction(engine.ActionContinue); err != nil {
			return nil, err
		}
	default:
		s.Exec.Resume()
	}
	return map[string]interface{}{"state": "running"}, nil
}

type stepKind uint8

const (
	stepIn stepKind = iota
	stepOver
	stepOut
)

// stepHandler builds a handler for one step flavor. Stepping is only
// meaningful against the fine-grained controller, so Production mode
// rejects it.
func stepHandler(kind stepKind) handlerFunc {
	return func(s *ControlState, params json.RawMessage) (interface{}, error) {
		if s.ControlMode() != ModeDebug {
			return nil, errors.New("stepping requires debug mode")
		}
		var action engine.Action
		switch kind {
		case stepIn:
			action = engine.ActionStepIn
		case stepOver:
			action = engine.ActionStepOver
		default:
			action = engine.ActionStepOut
		}
		if err := s.Debug.ApplyAction(action); err != nil {
			return nil, err
		}
		return map[string]interface{}{"stepping": action.String()}, nil
	}
}

// ---------------------------------------------------------------------------
// bytecode.reload
// ---------------------------------------------------------------------------

// handleBytecodeReload hands a new program image to the execution
// loop and blocks on the reply rendezvous with a fixed timeout.
func handleBytecodeReload(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Bytecode string `json:"bytecode"` // base64
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	image, err := base64.StdEncoding.DecodeString(p.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("bad bytecode encoding: %w", err)
	}

	reply := make(chan error, 1)
	s.Exec.Send(engine.ReloadBytecode{Bytes: image, Reply: reply})

	select {
	case err := <-reply:
		if err != nil {
			return nil, fmt.Errorf("reload failed: %w", err)
		}
	case <-time.After(reloadTimeout):
		return nil, ErrReloadTimeout
	}
	return map[string]interface{}{"reloaded": true, "size": len(image)}, nil
}
