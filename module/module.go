// Package module defines the contract between the mixlab engine and its
// signal-processing modules, the per-tick buffer types routed between them,
// and the concrete module implementations.
package module

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/lwp001/mixlab/errors"
	"github.com/lwp001/mixlab/protocol"
)

// Module is one node of the signal graph. The engine invokes every module
// exactly once per tick, on the engine goroutine; implementations must not
// block indefinitely in RunTick; long-running work belongs in side-tasks
// scheduled through the Environment.
//
// Modules must not fail: out-of-range parameters and inputs are clamped or
// saturated, and a module that cannot produce output leaves its buffers at
// their zero-initialised defaults.
type Module interface {
	// Params reports the module's current parameters.
	Params() protocol.ModuleParams

	// Inputs and Outputs report the module's terminal lists. Both are
	// fixed for the module's lifetime.
	Inputs() []protocol.Terminal
	Outputs() []protocol.Terminal

	// Update re-parameterises the module in place, optionally returning a
	// fresh indication.
	Update(params protocol.ModuleParams) *protocol.Indication

	// RunTick computes one tick of signal. offset is the tick's first
	// sample index (tick * SamplesPerTick). inputs holds one view per
	// input terminal; outputs holds one zero-initialised buffer per
	// output terminal, which the module writes in place.
	RunTick(offset uint64, inputs []InputRef, outputs []*Output) *protocol.Indication
}

// TaskReceiver is implemented by modules that schedule side-tasks. Results
// are delivered at the next tick boundary, never mid-tick, so modules stay
// single-threaded.
type TaskReceiver interface {
	Module
	ReceiveTaskResult(result any)
}

// TaskScheduler is the engine-owned executor handed to modules for
// asynchronous work. Side-tasks must not hold references into the workspace.
type TaskScheduler interface {
	// Spawn runs fn on a worker; its result is delivered back to the
	// module via ReceiveTaskResult at a tick boundary.
	Spawn(fn func() any)

	// Await runs fn on a worker and blocks for its result. Discouraged
	// for audio modules; it stalls the tick.
	Await(fn func() any) any
}

// Environment is what a module gets at construction time.
type Environment struct {
	Tasks TaskScheduler
	Log   *zap.SugaredLogger
}

// Factory constructs a module from its decoded parameter payload.
type Factory func(env *Environment, data json.RawMessage) (Module, *protocol.Indication, error)

var registry = map[string]Factory{}

// Register adds a module kind to the factory registry. Called from init
// functions of the concrete implementations.
func Register(kind string, factory Factory) {
	if _, exists := registry[kind]; exists {
		panic("module: duplicate kind " + kind)
	}
	registry[kind] = factory
}

// Kinds lists the registered module kinds, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Create constructs a module from client-supplied parameters. Unknown kinds
// return an error; the mediator drops such commands silently.
func Create(env *Environment, params protocol.ModuleParams) (Module, *protocol.Indication, error) {
	factory, ok := registry[params.Kind]
	if !ok {
		return nil, nil, errors.Newf("unknown module kind %q", params.Kind)
	}
	return factory(env, params.Data)
}

// makeParams packs a typed parameter struct into its wire form. Parameter
// structs are plain data and always marshal.
func makeParams(kind string, v any) protocol.ModuleParams {
	data, _ := json.Marshal(v)
	return protocol.ModuleParams{Kind: kind, Data: data}
}

// makeIndication packs a typed indication struct into its wire form.
func makeIndication(kind string, v any) *protocol.Indication {
	data, _ := json.Marshal(v)
	return &protocol.Indication{Kind: kind, Data: data}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
