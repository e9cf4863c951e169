package engine

import (
	"sort"

	"github.com/lwp001/mixlab/errors"
	"github.com/lwp001/mixlab/module"
	"github.com/lwp001/mixlab/protocol"
)

// Connection failures. Not surfaced to clients; the mediator absorbs them as
// silent no-ops (the UI is expected to pre-validate).
var (
	ErrNoInput      = errors.New("no such input terminal")
	ErrNoOutput     = errors.New("no such output terminal")
	ErrTypeMismatch = errors.New("line type mismatch")
)

// sequence allocates ids from a monotonically increasing counter. The first
// allocated id is 1, so ids are always non-zero.
type sequence struct {
	last uint64
}

func (s *sequence) next() uint64 {
	s.last++
	return s.last
}

// Workspace is the authoritative in-memory graph state. It is owned
// exclusively by the engine goroutine; there is exactly one writer and no
// concurrent reader, so no locking is required.
type Workspace struct {
	moduleSeq   sequence
	modules     map[protocol.ModuleId]module.Module
	geometry    map[protocol.ModuleId]protocol.WindowGeometry
	connections map[protocol.InputId]protocol.OutputId
	indications map[protocol.ModuleId]protocol.Indication
}

func NewWorkspace() *Workspace {
	return &Workspace{
		modules:     make(map[protocol.ModuleId]module.Module),
		geometry:    make(map[protocol.ModuleId]protocol.WindowGeometry),
		connections: make(map[protocol.InputId]protocol.OutputId),
		indications: make(map[protocol.ModuleId]protocol.Indication),
	}
}

func (w *Workspace) inputType(id protocol.InputId) (protocol.LineType, bool) {
	m, ok := w.modules[id.Module]
	if !ok {
		return "", false
	}
	inputs := m.Inputs()
	if id.Index < 0 || id.Index >= len(inputs) {
		return "", false
	}
	return inputs[id.Index].Type, true
}

func (w *Workspace) outputType(id protocol.OutputId) (protocol.LineType, bool) {
	m, ok := w.modules[id.Module]
	if !ok {
		return "", false
	}
	outputs := m.Outputs()
	if id.Index < 0 || id.Index >= len(outputs) {
		return "", false
	}
	return outputs[id.Index].Type, true
}

// Connect typechecks and inserts a connection. Each input has at most one
// inbound edge: inserting over an existing connection displaces it, and the
// displaced output is returned so the mediator can emit a delete-then-create
// pair.
func (w *Workspace) Connect(input protocol.InputId, output protocol.OutputId) (*protocol.OutputId, error) {
	inputType, ok := w.inputType(input)
	if !ok {
		return nil, ErrNoInput
	}

	outputType, ok := w.outputType(output)
	if !ok {
		return nil, ErrNoOutput
	}

	if inputType != outputType {
		return nil, ErrTypeMismatch
	}

	var displaced *protocol.OutputId
	if prev, ok := w.connections[input]; ok {
		displaced = &prev
	}
	w.connections[input] = output
	return displaced, nil
}

// sortedModuleIds returns all module ids ascending. Iteration over workspace
// maps must go through a sorted id list so run orders and snapshots are
// reproducible.
func (w *Workspace) sortedModuleIds() []protocol.ModuleId {
	ids := make([]protocol.ModuleId, 0, len(w.modules))
	for id := range w.modules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// sortedConnections returns all connections ordered by input id.
func (w *Workspace) sortedConnections() []protocol.ConnectionEntry {
	entries := make([]protocol.ConnectionEntry, 0, len(w.connections))
	for input, output := range w.connections {
		entries = append(entries, protocol.ConnectionEntry{Input: input, Output: output})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Input, entries[j].Input
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Index < b.Index
	})
	return entries
}

// snapshot dumps the full workspace as the state handed to a connecting
// session.
func (w *Workspace) snapshot() protocol.WorkspaceState {
	state := protocol.WorkspaceState{
		Modules:     []protocol.ModuleEntry{},
		Geometry:    []protocol.GeometryEntry{},
		Indications: []protocol.IndicationEntry{},
		Connections: w.sortedConnections(),
		Inputs:      []protocol.TerminalsEntry{},
		Outputs:     []protocol.TerminalsEntry{},
	}

	for _, id := range w.sortedModuleIds() {
		m := w.modules[id]
		state.Modules = append(state.Modules, protocol.ModuleEntry{ID: id, Params: m.Params()})
		state.Inputs = append(state.Inputs, protocol.TerminalsEntry{ID: id, Terminals: m.Inputs()})
		state.Outputs = append(state.Outputs, protocol.TerminalsEntry{ID: id, Terminals: m.Outputs()})

		if geometry, ok := w.geometry[id]; ok {
			state.Geometry = append(state.Geometry, protocol.GeometryEntry{ID: id, Geometry: geometry})
		}
		if indication, ok := w.indications[id]; ok {
			state.Indications = append(state.Indications, protocol.IndicationEntry{ID: id, Indication: indication})
		}
	}

	return state
}

// saved dumps the workspace in its persisted layout: the module id sequence
// and, per module, params, geometry, and one optional upstream output per
// input. Connections are reconstructed from the input lists at load time, so
// forward references between modules are fine.
func (w *Workspace) saved() *SavedWorkspace {
	saved := &SavedWorkspace{ModuleSeq: w.moduleSeq.last}

	for _, id := range w.sortedModuleIds() {
		m := w.modules[id]

		inputs := make([]*protocol.OutputId, len(m.Inputs()))
		for idx := range inputs {
			if output, ok := w.connections[protocol.InputId{Module: id, Index: idx}]; ok {
				out := output
				inputs[idx] = &out
			}
		}

		saved.Modules = append(saved.Modules, SavedModule{
			ID:       id,
			Params:   m.Params(),
			Geometry: w.geometry[id],
			Inputs:   inputs,
		})
	}

	return saved
}
