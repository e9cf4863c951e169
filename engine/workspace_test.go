package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwp001/mixlab/module"
	"github.com/lwp001/mixlab/protocol"
)

// addStub installs a stub module with the given terminals under a fresh id.
func addStub(ws *Workspace, inputs, outputs []protocol.LineType) protocol.ModuleId {
	id := protocol.ModuleId(ws.moduleSeq.next())
	ws.modules[id] = newStubModule(inputs, outputs)
	ws.geometry[id] = protocol.WindowGeometry{}
	return id
}

func TestConnectTypechecks(t *testing.T) {
	ws := NewWorkspace()
	src := addStub(ws, nil, []protocol.LineType{protocol.LineMono})
	dst := addStub(ws, []protocol.LineType{protocol.LineVideo}, nil)

	_, err := ws.Connect(
		protocol.InputId{Module: dst, Index: 0},
		protocol.OutputId{Module: src, Index: 0},
	)
	require.ErrorIs(t, err, ErrTypeMismatch)
	assert.Empty(t, ws.connections)
}

func TestConnectMissingEndpoints(t *testing.T) {
	ws := NewWorkspace()
	src := addStub(ws, nil, []protocol.LineType{protocol.LineMono})
	dst := addStub(ws, []protocol.LineType{protocol.LineMono}, nil)

	_, err := ws.Connect(
		protocol.InputId{Module: 99, Index: 0},
		protocol.OutputId{Module: src, Index: 0},
	)
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = ws.Connect(
		protocol.InputId{Module: dst, Index: 0},
		protocol.OutputId{Module: src, Index: 7},
	)
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestConnectDisplacesPrior(t *testing.T) {
	ws := NewWorkspace()
	first := addStub(ws, nil, []protocol.LineType{protocol.LineMono})
	second := addStub(ws, nil, []protocol.LineType{protocol.LineMono})
	dst := addStub(ws, []protocol.LineType{protocol.LineMono}, nil)

	input := protocol.InputId{Module: dst, Index: 0}

	displaced, err := ws.Connect(input, protocol.OutputId{Module: first, Index: 0})
	require.NoError(t, err)
	assert.Nil(t, displaced)

	displaced, err = ws.Connect(input, protocol.OutputId{Module: second, Index: 0})
	require.NoError(t, err)
	require.NotNil(t, displaced)
	assert.Equal(t, protocol.OutputId{Module: first, Index: 0}, *displaced)

	// at most one inbound edge per input
	assert.Len(t, ws.connections, 1)
	assert.Equal(t, protocol.OutputId{Module: second, Index: 0}, ws.connections[input])
}

func TestSnapshotOrderedByModuleId(t *testing.T) {
	ws := NewWorkspace()
	a := addStub(ws, nil, []protocol.LineType{protocol.LineMono})
	b := addStub(ws, []protocol.LineType{protocol.LineMono}, nil)
	c := addStub(ws, []protocol.LineType{protocol.LineMono}, nil)

	_, err := ws.Connect(protocol.InputId{Module: c, Index: 0}, protocol.OutputId{Module: a, Index: 0})
	require.NoError(t, err)
	_, err = ws.Connect(protocol.InputId{Module: b, Index: 0}, protocol.OutputId{Module: a, Index: 0})
	require.NoError(t, err)

	state := ws.snapshot()

	require.Len(t, state.Modules, 3)
	assert.Equal(t, []protocol.ModuleId{a, b, c}, []protocol.ModuleId{
		state.Modules[0].ID, state.Modules[1].ID, state.Modules[2].ID,
	})

	require.Len(t, state.Connections, 2)
	assert.Equal(t, b, state.Connections[0].Input.Module)
	assert.Equal(t, c, state.Connections[1].Input.Module)
}

func TestSavedRoundTripShape(t *testing.T) {
	ws := NewWorkspace()
	src := addStub(ws, nil, []protocol.LineType{protocol.LineMono})
	dst := addStub(ws, []protocol.LineType{protocol.LineMono, protocol.LineMono}, nil)

	_, err := ws.Connect(protocol.InputId{Module: dst, Index: 1}, protocol.OutputId{Module: src, Index: 0})
	require.NoError(t, err)

	saved := ws.saved()
	assert.Equal(t, uint64(2), saved.ModuleSeq)
	require.Len(t, saved.Modules, 2)

	// dst has one unwired and one wired input
	dstSaved := saved.Modules[1]
	require.Len(t, dstSaved.Inputs, 2)
	assert.Nil(t, dstSaved.Inputs[0])
	require.NotNil(t, dstSaved.Inputs[1])
	assert.Equal(t, protocol.OutputId{Module: src, Index: 0}, *dstSaved.Inputs[1])
}

// stubModule is a minimal Module for graph-shape tests.
type stubModule struct {
	inputs  []protocol.Terminal
	outputs []protocol.Terminal
	onTick  func(offset uint64, inputs []module.InputRef, outputs []*module.Output) *protocol.Indication
	runs    int
}

func newStubModule(inputs, outputs []protocol.LineType) *stubModule {
	stub := &stubModule{}
	for _, t := range inputs {
		stub.inputs = append(stub.inputs, protocol.Terminal{Type: t})
	}
	for _, t := range outputs {
		stub.outputs = append(stub.outputs, protocol.Terminal{Type: t})
	}
	return stub
}

func (s *stubModule) Params() protocol.ModuleParams {
	return protocol.ModuleParams{Kind: "stub"}
}

func (s *stubModule) Inputs() []protocol.Terminal  { return s.inputs }
func (s *stubModule) Outputs() []protocol.Terminal { return s.outputs }

func (s *stubModule) Update(protocol.ModuleParams) *protocol.Indication { return nil }

func (s *stubModule) RunTick(offset uint64, inputs []module.InputRef, outputs []*module.Output) *protocol.Indication {
	s.runs++
	if s.onTick != nil {
		return s.onTick(offset, inputs, outputs)
	}
	return nil
}
