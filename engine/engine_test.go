package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwp001/mixlab/logger"
	"github.com/lwp001/mixlab/module"
	"github.com/lwp001/mixlab/protocol"
)

// newTestEngine builds an engine without starting its tick loop, so tests
// can drive the mediator synchronously.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := logger.NewTestLogger()
	return &Engine{
		ctx:       ctx,
		cmdCh:     make(chan engineMessage, commandQueueDepth),
		log:       newBroadcastLog(log),
		perf:      newPerfWatch(),
		workspace: NewWorkspace(),
		stat:      newEngineStat(),
		tasks:     newWorkerPool(ctx, 1, log),
		logger:    log,
	}
}

func drainEvents(sub *Subscription) []protocol.EngineEvent {
	var events []protocol.EngineEvent
	for {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func createModuleOp(kind string, params any) protocol.ClientOp {
	data, _ := json.Marshal(params)
	return protocol.ClientOp{CreateModule: &protocol.CreateModuleOp{
		Params: protocol.ModuleParams{Kind: kind, Data: data},
	}}
}

func send(e *Engine, session protocol.SessionId, seq protocol.ClientSequence, op protocol.ClientOp) {
	e.clientUpdate(session, protocol.ClientMessage{Sequence: seq, Op: op})
}

func TestCreateConnectDeleteEventOrder(t *testing.T) {
	e := newTestEngine(t)
	sub := e.log.subscribe()

	// A: oscillator (mono out), B: amplifier (mono mod input at index 1)
	send(e, 1, 1, createModuleOp(module.KindOscillator, module.OscillatorParams{Freq: 440}))
	send(e, 1, 2, createModuleOp(module.KindAmplifier, module.AmplifierParams{Amplitude: 1}))
	send(e, 1, 3, protocol.ClientOp{CreateConnection: &protocol.CreateConnectionOp{
		Input:  protocol.InputId{Module: 2, Index: 1},
		Output: protocol.OutputId{Module: 1, Index: 0},
	}})
	send(e, 1, 4, protocol.ClientOp{DeleteModule: &protocol.DeleteModuleOp{ID: 1}})

	events := drainEvents(sub)
	require.Len(t, events, 9)

	require.NotNil(t, events[0].Update.CreateModule)
	assert.Equal(t, protocol.ModuleId(1), events[0].Update.CreateModule.ID)
	assert.Equal(t, protocol.OpClock{Session: 1, Sequence: 1}, *events[1].Sync)

	require.NotNil(t, events[2].Update.CreateModule)
	assert.Equal(t, protocol.ModuleId(2), events[2].Update.CreateModule.ID)
	require.NotNil(t, events[3].Sync)

	require.NotNil(t, events[4].Update.CreateConnection)
	require.NotNil(t, events[5].Sync)

	// deleting A first removes the touching connection, then the module
	require.NotNil(t, events[6].Update.DeleteConnection)
	assert.Equal(t, protocol.InputId{Module: 2, Index: 1}, events[6].Update.DeleteConnection.Input)
	require.NotNil(t, events[7].Update.DeleteModule)
	assert.Equal(t, protocol.ModuleId(1), events[7].Update.DeleteModule.ID)
	assert.Equal(t, protocol.OpClock{Session: 1, Sequence: 4}, *events[8].Sync)

	// referential integrity: no dangling connections remain
	assert.Empty(t, e.workspace.connections)
}

func TestTypeMismatchYieldsOnlySync(t *testing.T) {
	e := newTestEngine(t)
	sub := e.log.subscribe()

	send(e, 1, 1, createModuleOp(module.KindOscillator, module.OscillatorParams{Freq: 440}))
	send(e, 1, 2, createModuleOp(module.KindVideoMixer, module.VideoMixerParams{}))
	drainEvents(sub)

	// audio output into a video input
	send(e, 1, 3, protocol.ClientOp{CreateConnection: &protocol.CreateConnectionOp{
		Input:  protocol.InputId{Module: 2, Index: 0},
		Output: protocol.OutputId{Module: 1, Index: 0},
	}})

	events := drainEvents(sub)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Sync)
	assert.Equal(t, protocol.OpClock{Session: 1, Sequence: 3}, *events[0].Sync)
	assert.Empty(t, e.workspace.connections)
}

func TestConnectionReplacementEmitsDeleteThenCreate(t *testing.T) {
	e := newTestEngine(t)
	sub := e.log.subscribe()

	send(e, 1, 1, createModuleOp(module.KindOscillator, module.OscillatorParams{Freq: 440}))
	send(e, 1, 2, createModuleOp(module.KindOscillator, module.OscillatorParams{Freq: 880}))
	send(e, 1, 3, createModuleOp(module.KindAmplifier, module.AmplifierParams{Amplitude: 1}))
	drainEvents(sub)

	input := protocol.InputId{Module: 3, Index: 1}

	send(e, 1, 4, protocol.ClientOp{CreateConnection: &protocol.CreateConnectionOp{
		Input:  input,
		Output: protocol.OutputId{Module: 1, Index: 0},
	}})
	send(e, 1, 5, protocol.ClientOp{CreateConnection: &protocol.CreateConnectionOp{
		Input:  input,
		Output: protocol.OutputId{Module: 2, Index: 0},
	}})

	events := drainEvents(sub)
	require.Len(t, events, 5)

	require.NotNil(t, events[0].Update.CreateConnection)
	require.NotNil(t, events[1].Sync)

	// replacement surfaces as a delete-then-create pair
	require.NotNil(t, events[2].Update.DeleteConnection)
	assert.Equal(t, input, events[2].Update.DeleteConnection.Input)
	require.NotNil(t, events[3].Update.CreateConnection)
	assert.Equal(t, protocol.OutputId{Module: 2, Index: 0}, events[3].Update.CreateConnection.Output)
	require.NotNil(t, events[4].Sync)

	assert.Equal(t, protocol.OutputId{Module: 2, Index: 0}, e.workspace.connections[input])
}

func TestUnknownIdsIgnoredButSynced(t *testing.T) {
	e := newTestEngine(t)
	sub := e.log.subscribe()

	send(e, 1, 1, protocol.ClientOp{UpdateModuleParams: &protocol.UpdateModuleParamsOp{
		ID:     42,
		Params: protocol.ModuleParams{Kind: module.KindOscillator},
	}})
	send(e, 1, 2, protocol.ClientOp{DeleteConnection: &protocol.DeleteConnectionOp{
		Input: protocol.InputId{Module: 42, Index: 0},
	}})
	send(e, 1, 3, createModuleOp("theremin", nil))

	events := drainEvents(sub)
	require.Len(t, events, 3)
	for i, ev := range events {
		require.NotNil(t, ev.Sync, "event %d", i)
		assert.Equal(t, protocol.ClientSequence(i+1), ev.Sync.Sequence)
	}
}

func TestIdenticalCommandStreamsEmitIdenticalUpdates(t *testing.T) {
	run := func() []protocol.EngineEvent {
		e := newTestEngine(t)
		sub := e.log.subscribe()

		send(e, 1, 1, createModuleOp(module.KindOscillator, module.OscillatorParams{Freq: 440}))
		send(e, 1, 2, createModuleOp(module.KindAmplifier, module.AmplifierParams{Amplitude: 0.5}))
		send(e, 1, 3, createModuleOp(module.KindMonitor, module.MonitorParams{}))
		send(e, 1, 4, protocol.ClientOp{CreateConnection: &protocol.CreateConnectionOp{
			Input:  protocol.InputId{Module: 2, Index: 1},
			Output: protocol.OutputId{Module: 1, Index: 0},
		}})
		send(e, 1, 5, protocol.ClientOp{CreateConnection: &protocol.CreateConnectionOp{
			Input:  protocol.InputId{Module: 3, Index: 0},
			Output: protocol.OutputId{Module: 2, Index: 0},
		}})
		send(e, 1, 6, protocol.ClientOp{DeleteModule: &protocol.DeleteModuleOp{ID: 2}})

		return drainEvents(sub)
	}

	assert.Equal(t, run(), run())
}

func TestModuleAndSessionIdsIncrease(t *testing.T) {
	e := newTestEngine(t)

	first := e.connectSession()
	second := e.connectSession()
	assert.Equal(t, protocol.SessionId(1), first.session)
	assert.Equal(t, protocol.SessionId(2), second.session)

	send(e, first.session, 1, createModuleOp(module.KindOscillator, module.OscillatorParams{Freq: 440}))
	send(e, second.session, 1, createModuleOp(module.KindOscillator, module.OscillatorParams{Freq: 880}))

	ids := e.workspace.sortedModuleIds()
	assert.Equal(t, []protocol.ModuleId{1, 2}, ids)
}

func TestConnectSessionSnapshotsState(t *testing.T) {
	e := newTestEngine(t)

	send(e, 1, 1, createModuleOp(module.KindMonitor, module.MonitorParams{}))

	reply := e.connectSession()
	require.Len(t, reply.state.Modules, 1)
	assert.Equal(t, module.KindMonitor, reply.state.Modules[0].Params.Kind)
	require.Len(t, reply.state.Inputs, 1)
	assert.Equal(t, protocol.LineStereo, reply.state.Inputs[0].Terminals[0].Type)

	// the monitor's creation indication is part of the snapshot
	require.Len(t, reply.state.Indications, 1)
}

func TestBackpressure(t *testing.T) {
	cmdCh := make(chan engineMessage, commandQueueDepth)
	done := make(chan struct{})
	h := &Handle{cmdCh: cmdCh, done: done}
	session := &Session{id: 1, handle: h}

	msg := protocol.ClientMessage{Sequence: 1, Op: protocol.ClientOp{
		DeleteModule: &protocol.DeleteModuleOp{ID: 1},
	}}

	// the queue admits exactly its capacity without the engine servicing
	for i := 0; i < commandQueueDepth; i++ {
		require.NoError(t, session.Update(msg))
	}
	require.ErrorIs(t, session.Update(msg), ErrBusy)

	// once the engine makes progress, sends succeed again
	<-cmdCh
	require.NoError(t, session.Update(msg))

	// a stopped engine rejects everything
	close(done)
	require.ErrorIs(t, session.Update(msg), ErrStopped)
}

func TestLiveEngineRoundTrip(t *testing.T) {
	h := Start(Config{Workers: 1}, logger.NewTestLogger())
	defer h.Close()

	session, state, sub, err := h.Connect()
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, state.Modules)
	assert.Equal(t, protocol.SessionId(1), session.ID())

	require.NoError(t, session.Update(protocol.ClientMessage{
		Sequence: 1,
		Op:       createModuleOp(module.KindOscillator, module.OscillatorParams{Freq: 440}),
	}))

	expectEvent := func() protocol.EngineEvent {
		select {
		case ev, ok := <-sub.C:
			require.True(t, ok, "subscription closed")
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for engine event")
			return protocol.EngineEvent{}
		}
	}

	ev := expectEvent()
	require.NotNil(t, ev.Update)
	require.NotNil(t, ev.Update.CreateModule)
	assert.Equal(t, module.KindOscillator, ev.Update.CreateModule.Params.Kind)

	ev = expectEvent()
	require.NotNil(t, ev.Sync)
	assert.Equal(t, protocol.OpClock{Session: 1, Sequence: 1}, *ev.Sync)

	// the timing accountant publishes performance snapshots while running
	select {
	case <-h.Performance().Changed():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for performance snapshot")
	}
	require.NotNil(t, h.Performance().Latest())
}

func TestClosedEngineRejectsConnect(t *testing.T) {
	h := Start(Config{Workers: 1}, logger.NewTestLogger())
	h.Close()

	_, _, _, err := h.Connect()
	assert.ErrorIs(t, err, ErrStopped)
}
