package module

import (
	"encoding/json"
	"math"

	"github.com/lwp001/mixlab/protocol"
)

const KindMonitor = "monitor"

// MonitorParams is empty; the monitor has nothing to configure.
type MonitorParams struct{}

// VuIndication is the monitor's per-tick meter reading.
type VuIndication struct {
	Peak float64 `json:"peak"`
	Rms  float64 `json:"rms"`
}

// Monitor is a terminal sink that meters its stereo input and exposes the
// reading as an indication each tick.
type Monitor struct{}

func init() {
	Register(KindMonitor, func(env *Environment, data json.RawMessage) (Module, *protocol.Indication, error) {
		return &Monitor{}, makeIndication(KindMonitor, VuIndication{}), nil
	})
}

func (m *Monitor) Params() protocol.ModuleParams {
	return makeParams(KindMonitor, MonitorParams{})
}

func (m *Monitor) Inputs() []protocol.Terminal {
	return []protocol.Terminal{{Label: "Input", Type: protocol.LineStereo}}
}

func (m *Monitor) Outputs() []protocol.Terminal { return nil }

func (m *Monitor) Update(protocol.ModuleParams) *protocol.Indication { return nil }

func (m *Monitor) RunTick(_ uint64, inputs []InputRef, _ []*Output) *protocol.Indication {
	input := StereoOrSilence(inputs[0])

	var peak, sum float64
	for _, sample := range input {
		abs := math.Abs(float64(sample))
		if abs > peak {
			peak = abs
		}
		sum += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(sum / float64(len(input)))

	return makeIndication(KindMonitor, VuIndication{Peak: peak, Rms: rms})
}
