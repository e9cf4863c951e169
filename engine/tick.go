package engine

import (
	"sort"

	"github.com/lwp001/mixlab/module"
	"github.com/lwp001/mixlab/protocol"
)

type moduleIndication struct {
	id         protocol.ModuleId
	indication protocol.Indication
}

// runTick executes every module in the workspace exactly once, in dependency
// order, routing produced buffers to downstream inputs. Buffers live only for
// the duration of the tick.
func (e *Engine) runTick(tick uint64, stat *tickStat) []moduleIndication {
	ws := e.workspace

	runOrder := runOrder(ws)

	buffers := make(map[protocol.OutputId]*module.Output, len(ws.modules))
	var indications []moduleIndication

	for _, id := range runOrder {
		m := ws.modules[id]

		outputTerminals := m.Outputs()
		outputs := make([]*module.Output, len(outputTerminals))
		for i, terminal := range outputTerminals {
			outputs[i] = module.NewOutput(terminal.Type)
		}

		inputs := make([]module.InputRef, len(m.Inputs()))
		for i := range inputs {
			inputs[i] = module.Disconnected
			if outputID, ok := ws.connections[protocol.InputId{Module: id, Index: i}]; ok {
				// a missing producer buffer means the edge closes a
				// cycle; it reads as disconnected this tick
				if buf, ok := buffers[outputID]; ok {
					inputs[i] = buf.AsInput()
				}
			}
		}

		offset := tick * protocol.SamplesPerTick

		indication := stat.recordModule(id, func() *protocol.Indication {
			return m.RunTick(offset, inputs, outputs)
		})
		if indication != nil {
			indications = append(indications, moduleIndication{id: id, indication: *indication})
		}

		for i, out := range outputs {
			buffers[protocol.OutputId{Module: id, Index: i}] = out
		}
	}

	return indications
}

// runOrder computes the tick's execution order: a post-order depth-first walk
// backwards through input connections, rooted at the terminal modules (those
// whose outputs are unconsumed). The order is a pure function of the graph:
// roots are visited by ascending module id and inputs by ascending index.
func runOrder(ws *Workspace) []protocol.ModuleId {
	// terminal set = all modules minus connection sources
	terminal := make(map[protocol.ModuleId]bool, len(ws.modules))
	for id := range ws.modules {
		terminal[id] = true
	}
	for _, output := range ws.connections {
		delete(terminal, output.Module)
	}

	roots := make([]protocol.ModuleId, 0, len(terminal))
	for id := range terminal {
		roots = append(roots, id)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	// cycle islands have no terminal at all; sweep every module as a
	// fallback root so each still runs exactly once per tick
	roots = append(roots, ws.sortedModuleIds()...)

	const (
		white = iota // unvisited
		grey         // on the stack
		black        // finished
	)

	state := make(map[protocol.ModuleId]int, len(ws.modules))
	order := make([]protocol.ModuleId, 0, len(ws.modules))

	type frame struct {
		id   protocol.ModuleId
		next int
	}

	for _, root := range roots {
		if state[root] != white {
			continue
		}
		state[root] = grey
		stack := []frame{{id: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			m := ws.modules[top.id]

			if top.next < len(m.Inputs()) {
				i := top.next
				top.next++

				outputID, ok := ws.connections[protocol.InputId{Module: top.id, Index: i}]
				if !ok {
					continue
				}

				src := outputID.Module
				if state[src] == white {
					state[src] = grey
					stack = append(stack, frame{id: src})
				}
				// grey means a back-edge closing a cycle: treat the
				// revisited module as a stop so it still runs once
				continue
			}

			state[top.id] = black
			order = append(order, top.id)
			stack = stack[:len(stack)-1]
		}
	}

	return order
}
