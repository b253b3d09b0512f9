package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rivet.control")

// Protocol-visible sentinel errors. Their text is the wire error
// string, so it stays stable.
var (
	ErrMalformed     = errors.New("malformed request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrDebugDisabled = errors.New("debug disabled")
	ErrUnsupported   = errors.New("unsupported request")
)

// Request is one line of the control protocol.
type Request struct {
	ID     uint64          `json:"id"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
	Auth   string          `json:"auth,omitempty"`
}

// Response is the uniform envelope: exactly one of Result/Error is
// present, discriminated by OK.
type Response struct {
	ID     uint64      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// handlerFunc handles one request type. It returns the result object
// or an error; the dispatcher builds the envelope.
type handlerFunc func(s *ControlState, params json.RawMessage) (interface{}, error)

// handlers routes request types. Populated here rather than in init
// functions so the full route table reads in one place.
var handlers = map[string]handlerFunc{
	// Runtime control
	"status":          handleStatus,
	"control.debug":   handleControlDebug,
	"pause":           handlePause,
	"resume":          handleResume,
	"step_in":         stepHandler(stepIn),
	"step_over":       stepHandler(stepOver),
	"step_out":        stepHandler(stepOut),
	"bytecode.reload": handleBytecodeReload,

	// Breakpoints and stops
	"breakpoints.set":            handleBreakpointsSet,
	"breakpoints.clear":          handleBreakpointsClear,
	"debug.breakpoint_locations": handleBreakpointLocations,
	"debug.stops":                handleDebugStops,
	"debug.state":                handleDebugState,

	// Variable paging
	"debug.scopes":    handleDebugScopes,
	"debug.variables": handleDebugVariables,

	// Evaluation and writes
	"debug.evaluate": handleDebugEvaluate,
	"eval":           handleLegacyEval,
	"set":            handleLegacySet,
	"var.force":      handleVarForce,
	"var.unforce":    handleVarUnforce,

	// Settings
	"config.set": handleConfigSet,
	"config.get": handleConfigGet,

	// Read-only introspection
	"sources.list": handleSourcesList,
	"source.get":   handleSourceGet,
	"io.state":     handleIOState,
	"events":       handleEvents,
}

// debugCategory reports whether a request type is gated by the
// debug-enabled flag.
func debugCategory(typ string) bool {
	switch typ {
	case "pause", "resume", "step_in", "step_over", "step_out", "eval", "set":
		return true
	}
	return strings.HasPrefix(typ, "breakpoints.") ||
		strings.HasPrefix(typ, "var.") ||
		strings.HasPrefix(typ, "debug.")
}

// Dispatch handles one request line: parse, authenticate, gate,
// route, envelope. Every outcome emits exactly one audit event.
// Panics in handlers are contained and surface as per-request errors.
func (s *ControlState) Dispatch(line []byte, client string) Response {
	// Only a line that fails to parse loses its id; a parsed request
	// without a known type is answered as unsupported under its own id.
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		resp := errorResponse(0, ErrMalformed)
		s.emitAudit(AuditEvent{
			Time:        time.Now(),
			RequestType: "",
			OK:          false,
			Error:       resp.Error,
			Client:      client,
		})
		return resp
	}

	resp := s.dispatchParsed(&req, client)
	s.emitAudit(AuditEvent{
		Time:        time.Now(),
		RequestID:   req.ID,
		RequestType: req.Type,
		OK:          resp.OK,
		Error:       resp.Error,
		AuthPresent: req.Auth != "",
		Client:      client,
	})
	return resp
}

func (s *ControlState) dispatchParsed(req *Request, client string) Response {
	if token := s.AuthToken(); token != "" && req.Auth != token {
		log.Infof("unauthorized %s request from %s", req.Type, client)
		return errorResponse(req.ID, ErrUnauthorized)
	}

	if debugCategory(req.Type) && !s.DebugEnabled() {
		return errorResponse(req.ID, ErrDebugDisabled)
	}

	handler, ok := handlers[req.Type]
	if !ok {
		return errorResponse(req.ID, ErrUnsupported)
	}

	result, err := s.invoke(handler, req.Params)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return Response{ID: req.ID, OK: true, Result: result}
}

// invoke runs a handler, converting a panic into a per-request error
// so nothing crosses the dispatcher.
func (s *ControlState) invoke(h handlerFunc, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler panic: %v", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return h(s, params)
}

func errorResponse(id uint64, err error) Response {
	return Response{ID: id, OK: false, Error: err.Error()}
}

// decodeParams unmarshals the params object, tolerating absence.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("bad params: %w", err)
	}
	return nil
}
