package engine

import (
	"sync"
	"time"

	"github.com/lwp001/mixlab/module"
	"github.com/lwp001/mixlab/protocol"
)

// perfWindow is the number of recent invocations in a module's sliding
// average.
const perfWindow = 60

// moduleStat accumulates one module's run_tick cost.
type moduleStat struct {
	count  uint64
	max    time.Duration
	window [perfWindow]time.Duration
}

func (s *moduleStat) record(elapsed time.Duration) {
	s.window[s.count%perfWindow] = elapsed
	s.count++
	if elapsed > s.max {
		s.max = elapsed
	}
}

func (s *moduleStat) avg() time.Duration {
	n := s.count
	if n > perfWindow {
		n = perfWindow
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := uint64(0); i < n; i++ {
		sum += s.window[i]
	}
	return sum / time.Duration(n)
}

// engineStat is the timing accountant: per-tick wall-clock cost against the
// tick budget and per-module execution cost. Owned by the engine goroutine.
type engineStat struct {
	budget    time.Duration
	tickCount uint64
	tickTotal time.Duration
	tickMax   time.Duration
	overruns  uint64
	modules   map[protocol.ModuleId]*moduleStat
}

func newEngineStat() *engineStat {
	return &engineStat{
		budget:  module.TickDuration,
		modules: make(map[protocol.ModuleId]*moduleStat),
	}
}

// recordTick wraps one tick's graph execution, measuring its duration and
// lateness against the scheduled deadline.
func (s *engineStat) recordTick(deadline time.Time, fn func(*tickStat) []moduleIndication) []moduleIndication {
	started := time.Now()
	indications := fn(&tickStat{stat: s})
	elapsed := time.Since(started)

	s.tickCount++
	s.tickTotal += elapsed
	if elapsed > s.tickMax {
		s.tickMax = elapsed
	}
	if time.Now().After(deadline) {
		s.overruns++
	}

	return indications
}

// removeModule forgets a deleted module's samples.
func (s *engineStat) removeModule(id protocol.ModuleId) {
	delete(s.modules, id)
}

// report snapshots the accountant as a PerformanceInfo.
func (s *engineStat) report() *protocol.PerformanceInfo {
	info := &protocol.PerformanceInfo{
		Tick: protocol.TickPerformance{
			Max:      s.tickMax,
			Budget:   s.budget,
			Overruns: s.overruns,
		},
		Modules: make(map[protocol.ModuleId]protocol.ModulePerformance, len(s.modules)),
	}
	if s.tickCount > 0 {
		info.Tick.Avg = s.tickTotal / time.Duration(s.tickCount)
	}

	for id, stat := range s.modules {
		info.Modules[id] = protocol.ModulePerformance{
			Avg:   stat.avg(),
			Max:   stat.max,
			Count: stat.count,
		}
	}

	return info
}

// tickStat scopes module cost recording to one tick.
type tickStat struct {
	stat *engineStat
}

// recordModule wraps one module invocation.
func (t *tickStat) recordModule(id protocol.ModuleId, fn func() *protocol.Indication) *protocol.Indication {
	stat, ok := t.stat.modules[id]
	if !ok {
		stat = &moduleStat{}
		t.stat.modules[id] = stat
	}

	started := time.Now()
	indication := fn()
	stat.record(time.Since(started))

	return indication
}

// PerfWatch is a latest-value channel for performance snapshots: readers
// always see the most recent snapshot, and missed intermediates are fine.
// Changed carries at most one pending notification; a single consumer should
// select on it and then call Latest.
type PerfWatch struct {
	mu      sync.Mutex
	latest  *protocol.PerformanceInfo
	changed chan struct{}
}

func newPerfWatch() *PerfWatch {
	return &PerfWatch{changed: make(chan struct{}, 1)}
}

func (w *PerfWatch) publish(info *protocol.PerformanceInfo) {
	w.mu.Lock()
	w.latest = info
	w.mu.Unlock()

	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// Latest returns the most recent snapshot, or nil before the first emission.
func (w *PerfWatch) Latest() *protocol.PerformanceInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

// Changed signals that a newer snapshot than the last observed one may be
// available.
func (w *PerfWatch) Changed() <-chan struct{} {
	return w.changed
}
