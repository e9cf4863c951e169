package module

import (
	"encoding/json"

	"github.com/lwp001/mixlab/protocol"
)

const KindMixer = "mixer"

// MixerChannels is the fixed number of stereo input channels.
const MixerChannels = 4

// MixerParams holds per-channel gain, clamped to [0, 1].
type MixerParams struct {
	Gain []float64 `json:"gain"`
}

// Mixer sums its stereo inputs with per-channel gain, saturating to [-1, 1].
type Mixer struct {
	params MixerParams
}

func init() {
	Register(KindMixer, func(env *Environment, data json.RawMessage) (Module, *protocol.Indication, error) {
		var params MixerParams
		if len(data) > 0 {
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, nil, err
			}
		}
		mixer := &Mixer{params: sanitizeMixerParams(params)}
		return mixer, nil, nil
	})
}

func sanitizeMixerParams(p MixerParams) MixerParams {
	gain := make([]float64, MixerChannels)
	for i := range gain {
		if i < len(p.Gain) {
			gain[i] = clamp(p.Gain[i], 0, 1)
		} else {
			gain[i] = 1
		}
	}
	p.Gain = gain
	return p
}

func (m *Mixer) Params() protocol.ModuleParams {
	return makeParams(KindMixer, m.params)
}

func (m *Mixer) Inputs() []protocol.Terminal {
	inputs := make([]protocol.Terminal, MixerChannels)
	for i := range inputs {
		inputs[i] = protocol.Terminal{Label: channelLabel(i), Type: protocol.LineStereo}
	}
	return inputs
}

func (m *Mixer) Outputs() []protocol.Terminal {
	return []protocol.Terminal{{Label: "Output", Type: protocol.LineStereo}}
}

func (m *Mixer) Update(params protocol.ModuleParams) *protocol.Indication {
	var p MixerParams
	if err := json.Unmarshal(params.Data, &p); err == nil {
		m.params = sanitizeMixerParams(p)
	}
	return nil
}

func (m *Mixer) RunTick(_ uint64, inputs []InputRef, outputs []*Output) *protocol.Indication {
	out := outputs[0].Audio()

	for ch := 0; ch < MixerChannels; ch++ {
		if !inputs[ch].Connected() {
			continue
		}
		gain := float32(m.params.Gain[ch])
		input := inputs[ch].Audio()
		for i := range out {
			out[i] += input[i] * gain
		}
	}

	for i, sample := range out {
		if sample > 1 {
			out[i] = 1
		} else if sample < -1 {
			out[i] = -1
		}
	}

	return nil
}

func channelLabel(i int) string {
	return string(rune('1' + i))
}
