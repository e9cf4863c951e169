package module

import (
	"encoding/json"

	"github.com/lwp001/mixlab/protocol"
)

const KindAmplifier = "amplifier"

// AmplifierParams control output gain and how strongly the mono control
// input modulates it. Both are clamped to [0, 1].
type AmplifierParams struct {
	Amplitude float64 `json:"amplitude"`
	ModDepth  float64 `json:"mod_depth"`
}

// Amplifier scales a stereo signal by a fixed amplitude, modulated by an
// optional mono control input. A disconnected control behaves as unity.
type Amplifier struct {
	params AmplifierParams
}

func init() {
	Register(KindAmplifier, func(env *Environment, data json.RawMessage) (Module, *protocol.Indication, error) {
		params := AmplifierParams{Amplitude: 1}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, nil, err
			}
		}
		amp := &Amplifier{params: sanitizeAmplifierParams(params)}
		return amp, nil, nil
	})
}

func sanitizeAmplifierParams(p AmplifierParams) AmplifierParams {
	p.Amplitude = clamp(p.Amplitude, 0, 1)
	p.ModDepth = clamp(p.ModDepth, 0, 1)
	return p
}

func (a *Amplifier) Params() protocol.ModuleParams {
	return makeParams(KindAmplifier, a.params)
}

func (a *Amplifier) Inputs() []protocol.Terminal {
	return []protocol.Terminal{
		{Label: "Input", Type: protocol.LineStereo},
		{Label: "Mod", Type: protocol.LineMono},
	}
}

func (a *Amplifier) Outputs() []protocol.Terminal {
	return []protocol.Terminal{{Label: "Output", Type: protocol.LineStereo}}
}

func (a *Amplifier) Update(params protocol.ModuleParams) *protocol.Indication {
	var p AmplifierParams
	if err := json.Unmarshal(params.Data, &p); err == nil {
		a.params = sanitizeAmplifierParams(p)
	}
	return nil
}

func (a *Amplifier) RunTick(_ uint64, inputs []InputRef, outputs []*Output) *protocol.Indication {
	input := StereoOrSilence(inputs[0])
	mod := MonoOrOnes(inputs[1])
	out := outputs[0].Audio()

	amplitude := float32(a.params.Amplitude)
	modDepth := float32(a.params.ModDepth)

	for i := range input {
		// mod input is a mono channel and so half the length:
		modValue := mod[i/2]
		out[i] = input[i] * depth(modValue, modDepth) * amplitude
	}

	return nil
}

func depth(value, depth float32) float32 {
	return 1 - depth + depth*value
}
