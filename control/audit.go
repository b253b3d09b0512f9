package control

import "time"

// AuditEvent records the outcome of one control request. Events are
// sent over a fire-and-forget channel; an absent or slow consumer
// never blocks request handling.
type AuditEvent struct {
	Time        time.Time
	RequestID   uint64
	RequestType string
	OK          bool
	Error       string
	AuthPresent bool
	Client      string
}

// emitAudit sends one event without blocking. Events are dropped when
// the channel is full or nil.
func (s *ControlState) emitAudit(ev AuditEvent) {
	if s.audit == nil {
		return
	}
	select {
	case s.audit <- ev:
	default:
	}
}
