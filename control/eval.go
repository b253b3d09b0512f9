package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tkallio/rivet/engine"
	"github.com/tkallio/rivet/expr"
)

var (
	// ErrNoSnapshot is returned when no snapshot has been published
	// yet.
	ErrNoSnapshot = errors.New("no snapshot available")
	// ErrUnknownFrame is returned when a frame id is absent from the
	// snapshot.
	ErrUnknownFrame = errors.New("unknown frame id")
)

// ---------------------------------------------------------------------------
// debug.evaluate: snapshot expression evaluation
// ---------------------------------------------------------------------------

// handleDebugEvaluate parses an expression against the type registry
// and evaluates it on a clone of the snapshot storage. The running
// program is never touched.
func handleDebugEvaluate(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Expression string `json:"expression"`
		FrameID    *int   `json:"frame_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Expression) == "" {
		return nil, errors.New("empty expression")
	}

	snap := s.Debug.Snapshot()
	if snap == nil {
		return nil, ErrNoSnapshot
	}

	env := &expr.Env{Storage: snap.Storage.Clone()}
	if p.FrameID != nil {
		frame, ok := snap.Frame(*p.FrameID)
		if !ok {
			return nil, ErrUnknownFrame
		}
		env.Locals = frame.Locals
		env.Namespaces = s.Meta.Namespaces(frame.Name)
		if inst, found := env.Storage.Instance(frame.Instance); found {
			env.Instance = inst
		}
	} else if frame, ok := snap.CurrentFrame(); ok {
		env.Locals = frame.Locals
		env.Namespaces = s.Meta.Namespaces(frame.Name)
		if inst, found := env.Storage.Instance(frame.Instance); found {
			env.Instance = inst
		}
	}

	node, err := expr.Parse(p.Expression, s.Meta.Types())
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	val, err := expr.Eval(node, env)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"value": val.String(),
		"type":  val.TypeName(),
	}, nil
}

// ---------------------------------------------------------------------------
// Legacy eval / set and var.force / var.unforce
// ---------------------------------------------------------------------------

// parseTarget parses wire variable addressing. Legacy eval/set accept
// only global:<name> and retain:<name>; the force operations also
// accept instance:<id>:<name>.
func parseTarget(target string, allowInstance bool) (engine.WriteTarget, error) {
	parts := strings.Split(target, ":")
	switch {
	case len(parts) == 2 && parts[0] == "global":
		return engine.WriteTarget{Area: engine.AreaGlobal, Name: parts[1]}, nil
	case len(parts) == 2 && parts[0] == "retain":
		return engine.WriteTarget{Area: engine.AreaRetain, Name: parts[1]}, nil
	case len(parts) == 3 && parts[0] == "instance" && allowInstance:
		id, err := strconv.Atoi(parts[1])
		if err != nil || parts[2] == "" {
			return engine.WriteTarget{}, fmt.Errorf("bad target %q", target)
		}
		return engine.WriteTarget{Area: engine.AreaInstance, Instance: id, Name: parts[2]}, nil
	}
	return engine.WriteTarget{}, fmt.Errorf("bad target %q", target)
}

// handleLegacyEval is a read-only lookup of one global or retain
// variable against live storage.
func handleLegacyEval(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Target string `json:"target"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	target, err := parseTarget(p.Target, false)
	if err != nil {
		return nil, err
	}
	val, ok := s.Live.ReadVar(target)
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", p.Target)
	}
	return map[string]interface{}{
		"value": val.String(),
		"type":  val.TypeName(),
	}, nil
}

// coerceForTarget reads the target's declared type and converts the
// incoming JSON value to it.
func (s *ControlState) coerceForTarget(t engine.WriteTarget, raw interface{}) (engine.Value, error) {
	current, ok := s.Live.ReadVar(t)
	if !ok {
		return engine.Value{}, fmt.Errorf("unknown variable %q", t.String())
	}
	val, err := current.Coerce(raw)
	if err != nil {
		return engine.Value{}, err
	}
	return val, nil
}

// handleLegacySet enqueues a one-shot write applied by the loop at
// the next cycle boundary. Never synchronous: a snapshot taken before
// the boundary will not see it.
func handleLegacySet(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Target string      `json:"target"`
		Value  interface{} `json:"value"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	target, err := parseTarget(p.Target, false)
	if err != nil {
		return nil, err
	}
	val, err := s.coerceForTarget(target, p.Value)
	if err != nil {
		return nil, err
	}
	s.Debug.QueueWrite(target, val)
	return map[string]interface{}{"queued": target.String()}, nil
}

// handleVarForce pins a target to a value each cycle until released.
func handleVarForce(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Target string      `json:"target"`
		Value  interface{} `json:"value"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	target, err := parseTarget(p.Target, true)
	if err != nil {
		return nil, err
	}
	val, err := s.coerceForTarget(target, p.Value)
	if err != nil {
		return nil, err
	}
	s.Debug.QueueForce(target, val)
	return map[string]interface{}{"forced": target.String()}, nil
}

// handleVarUnforce releases a force.
func handleVarUnforce(s *ControlState, params json.RawMessage) (interface{}, error) {
	var p struct {
		Target string `json:"target"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	target, err := parseTarget(p.Target, true)
	if err != nil {
		return nil, err
	}
	s.Debug.ReleaseForce(target)
	return map[string]interface{}{"released": target.String()}, nil
}
