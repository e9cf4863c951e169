package module

import (
	"encoding/json"
	"math"

	"github.com/lwp001/mixlab/protocol"
)

const KindOscillator = "oscillator"

// OscillatorParams selects waveform and frequency. Freq is clamped to the
// Nyquist limit.
type OscillatorParams struct {
	Waveform string  `json:"waveform"`
	Freq     float64 `json:"freq"`
}

const (
	WaveformSine = "sine"
	WaveformSaw  = "saw"
)

// Oscillator generates a mono waveform. Phase is derived from the tick's
// sample offset, so output is a pure function of (offset, params) and two
// engines fed the same commands produce identical samples.
type Oscillator struct {
	params OscillatorParams
}

func init() {
	Register(KindOscillator, func(env *Environment, data json.RawMessage) (Module, *protocol.Indication, error) {
		params := OscillatorParams{Waveform: WaveformSine, Freq: 440}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, nil, err
			}
		}
		osc := &Oscillator{params: sanitizeOscillatorParams(params)}
		return osc, nil, nil
	})
}

func sanitizeOscillatorParams(p OscillatorParams) OscillatorParams {
	p.Freq = clamp(p.Freq, 0, protocol.SampleRate/2)
	if p.Waveform != WaveformSaw {
		p.Waveform = WaveformSine
	}
	return p
}

func (o *Oscillator) Params() protocol.ModuleParams {
	return makeParams(KindOscillator, o.params)
}

func (o *Oscillator) Inputs() []protocol.Terminal { return nil }

func (o *Oscillator) Outputs() []protocol.Terminal {
	return []protocol.Terminal{{Label: "Output", Type: protocol.LineMono}}
}

func (o *Oscillator) Update(params protocol.ModuleParams) *protocol.Indication {
	var p OscillatorParams
	if err := json.Unmarshal(params.Data, &p); err == nil {
		o.params = sanitizeOscillatorParams(p)
	}
	return nil
}

func (o *Oscillator) RunTick(offset uint64, _ []InputRef, outputs []*Output) *protocol.Indication {
	out := outputs[0].Audio()
	step := o.params.Freq / protocol.SampleRate

	switch o.params.Waveform {
	case WaveformSaw:
		for i := range out {
			_, frac := math.Modf(float64(offset+uint64(i)) * step)
			out[i] = float32(2*frac - 1)
		}
	default:
		for i := range out {
			phase := 2 * math.Pi * float64(offset+uint64(i)) * step
			out[i] = float32(math.Sin(phase))
		}
	}

	return nil
}
