// Package engine implements the live execution core of the mixlab patching
// workbench: the single-owner workspace, the fixed-rate tick loop, the
// per-tick dataflow scheduler, and the command/event mediation channel that
// serialises multi-session edits into a causal log.
package engine

import (
	"context"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lwp001/mixlab/errors"
	"github.com/lwp001/mixlab/module"
	"github.com/lwp001/mixlab/protocol"
	"github.com/lwp001/mixlab/sym"
)

// commandQueueDepth bounds the session command queue. A full queue rejects
// sends with ErrBusy; commands are never silently dropped.
const commandQueueDepth = 8

// Engine boundary errors.
var (
	// ErrBusy means the command queue is full; the caller may retry.
	ErrBusy = errors.New("engine busy")
	// ErrStopped means the engine has terminated; the caller should tear
	// down.
	ErrStopped = errors.New("engine stopped")
)

// Config carries engine startup options.
type Config struct {
	// Saved restores a persisted workspace at startup.
	Saved *SavedWorkspace
	// Store receives periodic workspace autosaves, and a final save when
	// the engine stops, when set.
	Store *WorkspaceStore
	// AutosaveInterval is how often to autosave; 0 disables.
	AutosaveInterval time.Duration
	// Workers sizes the side-task worker pool.
	Workers int
}

// engineMessage is the union of messages accepted on the command queue.
// Exactly one field is set.
type engineMessage struct {
	connect *connectRequest
	client  *clientCommand
}

type connectRequest struct {
	reply chan connectReply
}

type connectReply struct {
	session protocol.SessionId
	state   protocol.WorkspaceState
	events  *Subscription
}

type clientCommand struct {
	session protocol.SessionId
	msg     protocol.ClientMessage
}

// Handle is the session-facing half of the engine: a bounded command queue
// in, event subscriptions and a performance watch out.
type Handle struct {
	cmdCh  chan<- engineMessage
	done   <-chan struct{}
	perf   *PerfWatch
	tasks  *WorkerPool
	cancel context.CancelFunc
}

// Session is one connected client's sender. Commands from a single session
// are processed in submission order.
type Session struct {
	id     protocol.SessionId
	handle *Handle
}

func (s *Session) ID() protocol.SessionId { return s.id }

// Update submits a client message. Fails with ErrBusy when the queue is full
// and ErrStopped when the engine has terminated.
func (s *Session) Update(msg protocol.ClientMessage) error {
	return s.handle.send(engineMessage{client: &clientCommand{session: s.id, msg: msg}})
}

// Start spawns the engine goroutine and returns its handle. All workspace
// mutation, scheduling, and module invocation happens on that single
// goroutine; sessions interact with it only through the handle's channels.
func Start(cfg Config, logger *zap.SugaredLogger) *Handle {
	ctx, cancel := context.WithCancel(context.Background())

	cmdCh := make(chan engineMessage, commandQueueDepth)
	done := make(chan struct{})

	workers := cfg.Workers
	if workers < 1 {
		workers = 2
	}
	tasks := newWorkerPool(ctx, workers, logger)

	e := &Engine{
		ctx:       ctx,
		cmdCh:     cmdCh,
		log:       newBroadcastLog(logger),
		perf:      newPerfWatch(),
		workspace: NewWorkspace(),
		stat:      newEngineStat(),
		tasks:     tasks,
		store:     cfg.Store,
		autosave:  cfg.AutosaveInterval,
		logger:    logger,
	}

	go func() {
		defer close(done)
		if cfg.Saved != nil {
			e.loadWorkspace(cfg.Saved)
		}
		e.run()
		if e.store != nil {
			// final save on shutdown
			if err := e.store.Save(e.workspace.saved()); err != nil {
				logger.Warnw(sym.DB+" Final workspace save failed", "error", err)
			}
		}
	}()

	return &Handle{
		cmdCh:  cmdCh,
		done:   done,
		perf:   e.perf,
		tasks:  tasks,
		cancel: cancel,
	}
}

// Connect allocates a fresh session: its id, a full workspace snapshot, and
// a subscription to the change-event stream, taken atomically on the engine
// goroutine.
func (h *Handle) Connect() (*Session, protocol.WorkspaceState, *Subscription, error) {
	reply := make(chan connectReply, 1)

	if err := h.send(engineMessage{connect: &connectRequest{reply: reply}}); err != nil {
		return nil, protocol.WorkspaceState{}, nil, err
	}

	select {
	case r := <-reply:
		return &Session{id: r.session, handle: h}, r.state, r.events, nil
	case <-h.done:
		return nil, protocol.WorkspaceState{}, nil, ErrStopped
	}
}

// Performance returns the latest-value watch of engine timing snapshots.
func (h *Handle) Performance() *PerfWatch { return h.perf }

// Tasks exposes the side-task worker pool, e.g. for system metrics.
func (h *Handle) Tasks() *WorkerPool { return h.tasks }

// Close stops the engine. The loop exits at its next suspension point;
// subsequent sends fail with ErrStopped.
func (h *Handle) Close() {
	h.cancel()
	<-h.done
	h.tasks.wait()
}

func (h *Handle) send(msg engineMessage) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}

	select {
	case h.cmdCh <- msg:
		return nil
	case <-h.done:
		return ErrStopped
	default:
		return ErrBusy
	}
}

// Engine owns the workspace and runs the tick loop. Every field is touched
// only from the engine goroutine, except log and perf which synchronise
// internally.
type Engine struct {
	ctx        context.Context
	cmdCh      chan engineMessage
	log        *broadcastLog
	perf       *PerfWatch
	sessionSeq sequence
	workspace  *Workspace
	stat       *engineStat
	tasks      *WorkerPool
	store      *WorkspaceStore
	autosave   time.Duration
	logger     *zap.SugaredLogger
}

// run is the engine loop: execute tick n, fan out its indications, then
// service commands until tick n+1 is due. The loop is latency-sensitive, so
// it keeps its OS thread.
func (e *Engine) run() {
	runtime.LockOSThread()

	start := time.Now()
	var tick uint64

	autosaveTicks := uint64(0)
	if e.store != nil && e.autosave > 0 {
		autosaveTicks = uint64(e.autosave / module.TickDuration)
		if autosaveTicks == 0 {
			autosaveTicks = 1
		}
	}

	e.logger.Infow(sym.Engine+" Engine started",
		"ticks_per_second", protocol.TicksPerSecond,
		"samples_per_tick", protocol.SamplesPerTick,
	)

	for {
		thisTick := tick
		tick++

		// the deadline is recomputed from the tick index, not
		// accumulated, so rounding error cannot drift
		scheduledTickEnd := start.Add(time.Duration(tick) * time.Second / protocol.TicksPerSecond)

		// side-task results are delivered at tick boundaries only
		e.deliverTaskResults()

		indications := e.stat.recordTick(scheduledTickEnd, func(stat *tickStat) []moduleIndication {
			return e.runTick(thisTick, stat)
		})

		for _, ind := range indications {
			e.workspace.indications[ind.id] = ind.indication
			e.logOp(protocol.ServerUpdate{
				UpdateModuleIndication: &protocol.IndicationUpdate{ID: ind.id, Indication: ind.indication},
			})
		}

		if thisTick%(protocol.TicksPerSecond/2) == 0 {
			e.perf.publish(e.stat.report())
		}

		if autosaveTicks > 0 && thisTick > 0 && thisTick%autosaveTicks == 0 {
			e.autosaveWorkspace()
		}

		// process all waiting commands immediately
	drain:
		for {
			select {
			case <-e.ctx.Done():
				return
			case msg := <-e.cmdCh:
				e.processMessage(msg)
			default:
				break drain
			}
		}

		// wait for the next tick, servicing commands while waiting; if
		// the deadline passes mid-command the next tick starts
		// immediately
		if remaining := time.Until(scheduledTickEnd); remaining > 0 {
			timer := time.NewTimer(remaining)
		wait:
			for {
				select {
				case <-e.ctx.Done():
					timer.Stop()
					return
				case msg := <-e.cmdCh:
					e.processMessage(msg)
					if !time.Now().Before(scheduledTickEnd) {
						timer.Stop()
						break wait
					}
				case <-timer.C:
					break wait
				}
			}
		}
	}
}

func (e *Engine) processMessage(msg engineMessage) {
	switch {
	case msg.connect != nil:
		msg.connect.reply <- e.connectSession()
	case msg.client != nil:
		e.clientUpdate(msg.client.session, msg.client.msg)
	}
}

func (e *Engine) connectSession() connectReply {
	session := protocol.SessionId(e.sessionSeq.next())
	events := e.log.subscribe()
	state := e.workspace.snapshot()

	e.logger.Debugw(sym.Session+" Session connected",
		"session", session,
		"modules", len(state.Modules),
	)

	return connectReply{session: session, state: state, events: events}
}

func (e *Engine) logOp(update protocol.ServerUpdate) {
	e.log.publish(protocol.EngineEvent{Update: &update})
}

func (e *Engine) syncLog(clock protocol.OpClock) {
	e.log.publish(protocol.EngineEvent{Sync: &clock})
}

func (e *Engine) deliverTaskResults() {
	e.tasks.drain(func(id protocol.ModuleId, value any) {
		m, ok := e.workspace.modules[id]
		if !ok {
			// module deleted while its task was in flight
			return
		}
		if receiver, ok := m.(module.TaskReceiver); ok {
			receiver.ReceiveTaskResult(value)
		}
	})
}

func (e *Engine) moduleEnv(id protocol.ModuleId) *module.Environment {
	return &module.Environment{
		Tasks: e.tasks.scheduler(id),
		Log:   e.logger.With("module", id),
	}
}

// clientUpdate mediates one client command: mutate the workspace, emit the
// authoritative change events, and finish with the command's Sync barrier.
// Client input never panics the engine; unknown ids, typemismatched
// connections, and updates to deleted modules are silently ignored. The Sync
// barrier is emitted even when the command produced no update.
func (e *Engine) clientUpdate(session protocol.SessionId, msg protocol.ClientMessage) {
	clock := protocol.OpClock{Session: session, Sequence: msg.Sequence}
	defer e.syncLog(clock)

	op := msg.Op
	switch {
	case op.CreateModule != nil:
		e.createModule(op.CreateModule)
	case op.UpdateModuleParams != nil:
		e.updateModuleParams(op.UpdateModuleParams)
	case op.UpdateWindowGeometry != nil:
		e.updateWindowGeometry(op.UpdateWindowGeometry)
	case op.DeleteModule != nil:
		e.deleteModule(op.DeleteModule.ID)
	case op.CreateConnection != nil:
		e.createConnection(op.CreateConnection)
	case op.DeleteConnection != nil:
		e.deleteConnection(op.DeleteConnection.Input)
	}
}

func (e *Engine) createModule(op *protocol.CreateModuleOp) {
	ws := e.workspace

	id := protocol.ModuleId(ws.moduleSeq.next())
	m, indication, err := module.Create(e.moduleEnv(id), op.Params)
	if err != nil {
		e.logger.Debugw(sym.Engine+" Dropping create for unknown module", "kind", op.Params.Kind, "error", err)
		return
	}

	ws.modules[id] = m
	ws.geometry[id] = op.Geometry
	if indication != nil {
		ws.indications[id] = *indication
	}

	e.logOp(protocol.ServerUpdate{CreateModule: &protocol.CreateModuleUpdate{
		ID:         id,
		Params:     op.Params,
		Geometry:   op.Geometry,
		Indication: indication,
		Inputs:     m.Inputs(),
		Outputs:    m.Outputs(),
	}})
}

func (e *Engine) updateModuleParams(op *protocol.UpdateModuleParamsOp) {
	m, ok := e.workspace.modules[op.ID]
	if !ok {
		return
	}

	indication := m.Update(op.Params)
	e.logOp(protocol.ServerUpdate{UpdateModuleParams: op})

	if indication != nil {
		e.workspace.indications[op.ID] = *indication
		e.logOp(protocol.ServerUpdate{
			UpdateModuleIndication: &protocol.IndicationUpdate{ID: op.ID, Indication: *indication},
		})
	}
}

func (e *Engine) updateWindowGeometry(op *protocol.UpdateWindowGeometryOp) {
	if _, ok := e.workspace.geometry[op.ID]; !ok {
		return
	}
	e.workspace.geometry[op.ID] = op.Geometry
	e.logOp(protocol.ServerUpdate{UpdateWindowGeometry: op})
}

func (e *Engine) deleteModule(id protocol.ModuleId) {
	ws := e.workspace

	// remove connections touching the module first, in input order, so
	// observers see a deterministic event sequence
	var deleted []protocol.InputId
	for input, output := range ws.connections {
		if input.Module == id || output.Module == id {
			deleted = append(deleted, input)
		}
	}
	sortInputIds(deleted)

	for _, input := range deleted {
		delete(ws.connections, input)
		e.logOp(protocol.ServerUpdate{DeleteConnection: &protocol.DeleteConnectionOp{Input: input}})
	}

	if _, ok := ws.modules[id]; ok {
		delete(ws.modules, id)
		delete(ws.geometry, id)
		delete(ws.indications, id)
		e.logOp(protocol.ServerUpdate{DeleteModule: &protocol.DeleteModuleOp{ID: id}})
	}

	e.stat.removeModule(id)
}

func (e *Engine) createConnection(op *protocol.CreateConnectionOp) {
	displaced, err := e.workspace.Connect(op.Input, op.Output)
	if err != nil {
		// the client should have guarded against invalid connections;
		// just drop
		e.logger.Debugw(sym.Patch+" Dropping connection",
			"input", op.Input.String(),
			"output", op.Output.String(),
			"error", err,
		)
		return
	}

	if displaced != nil {
		e.logOp(protocol.ServerUpdate{DeleteConnection: &protocol.DeleteConnectionOp{Input: op.Input}})
	}
	e.logOp(protocol.ServerUpdate{CreateConnection: op})
}

func (e *Engine) deleteConnection(input protocol.InputId) {
	if _, ok := e.workspace.connections[input]; !ok {
		return
	}
	delete(e.workspace.connections, input)
	e.logOp(protocol.ServerUpdate{DeleteConnection: &protocol.DeleteConnectionOp{Input: input}})
}

func (e *Engine) autosaveWorkspace() {
	saved := e.workspace.saved()
	store := e.store

	e.tasks.Submit(func() {
		if err := store.Save(saved); err != nil {
			e.logger.Warnw(sym.DB+" Workspace autosave failed", "error", err)
		}
	})
}

// loadWorkspace restores a persisted workspace: modules first, then
// connections, so forward references resolve. Load is best-effort: a
// connection that fails typechecking is dropped.
func (e *Engine) loadWorkspace(saved *SavedWorkspace) {
	ws := e.workspace

	for _, sm := range saved.Modules {
		m, indication, err := module.Create(e.moduleEnv(sm.ID), sm.Params)
		if err != nil {
			e.logger.Warnw(sym.DB+" Skipping saved module", "id", sm.ID, "kind", sm.Params.Kind, "error", err)
			continue
		}
		ws.modules[sm.ID] = m
		ws.geometry[sm.ID] = sm.Geometry
		if indication != nil {
			ws.indications[sm.ID] = *indication
		}
		if uint64(sm.ID) > ws.moduleSeq.last {
			ws.moduleSeq.last = uint64(sm.ID)
		}
	}

	if saved.ModuleSeq > ws.moduleSeq.last {
		ws.moduleSeq.last = saved.ModuleSeq
	}

	for _, sm := range saved.Modules {
		for idx, output := range sm.Inputs {
			if output == nil {
				continue
			}
			input := protocol.InputId{Module: sm.ID, Index: idx}
			if _, err := ws.Connect(input, *output); err != nil {
				e.logger.Debugw(sym.DB+" Dropping saved connection",
					"input", input.String(),
					"output", output.String(),
					"error", err,
				)
			}
		}
	}

	e.logger.Infow(sym.DB+" Workspace restored",
		"modules", len(ws.modules),
		"connections", len(ws.connections),
	)
}

func sortInputIds(ids []protocol.InputId) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Module != ids[j].Module {
			return ids[i].Module < ids[j].Module
		}
		return ids[i].Index < ids[j].Index
	})
}
