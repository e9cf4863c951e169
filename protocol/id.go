package protocol

import "fmt"

// ModuleId identifies a module instance within the workspace. Ids are drawn
// from a monotonically increasing sequence and never reused.
type ModuleId uint64

// SessionId identifies a connected client session. Always non-zero.
type SessionId uint64

// ClientSequence is a per-session monotonically increasing integer chosen by
// the client.
type ClientSequence uint64

// InputId addresses the Index-th input terminal of a module.
type InputId struct {
	Module ModuleId `json:"module"`
	Index  int      `json:"index"`
}

func (id InputId) String() string {
	return fmt.Sprintf("in:%d:%d", id.Module, id.Index)
}

// OutputId addresses the Index-th output terminal of a module.
type OutputId struct {
	Module ModuleId `json:"module"`
	Index  int      `json:"index"`
}

func (id OutputId) String() string {
	return fmt.Sprintf("out:%d:%d", id.Module, id.Index)
}

// OpClock is a (session, client-sequence) pair identifying a position in the
// authoritative log.
//
// NOTE! OpClock is only partially ordered: clocks from different sessions
// have no relative ordering. Clients that need a total order must layer one
// above the engine.
type OpClock struct {
	Session  SessionId      `json:"session"`
	Sequence ClientSequence `json:"sequence"`
}

// Compare orders two clocks from the same session: -1, 0, or +1. The second
// return is false when the clocks belong to different sessions and are
// therefore incomparable.
func (c OpClock) Compare(other OpClock) (int, bool) {
	if c.Session != other.Session {
		return 0, false
	}
	switch {
	case c.Sequence < other.Sequence:
		return -1, true
	case c.Sequence > other.Sequence:
		return 1, true
	default:
		return 0, true
	}
}
