package module

import (
	"encoding/json"
	"time"

	"github.com/lwp001/mixlab/protocol"
)

const KindVideoMixer = "videomixer"

// VideoMixerChannels is the fixed number of video input channels.
const VideoMixerChannels = 2

// VideoMixerParams select which channels feed the A and B buses and the
// crossfade position between them. Fader 1 is full A, 0 is full B.
type VideoMixerParams struct {
	A     *int    `json:"a,omitempty"`
	B     *int    `json:"b,omitempty"`
	Fader float64 `json:"fader"`
}

// VideoMixer crossfades two video channels. Incoming frames are stored per
// channel until their duration hint expires, so channels producing fewer
// frames than one per tick keep their last picture live.
type VideoMixer struct {
	params   VideoMixerParams
	channels [VideoMixerChannels]storedFrame
}

type storedFrame struct {
	frame       *VideoFrame
	activeUntil time.Duration
}

func init() {
	Register(KindVideoMixer, func(env *Environment, data json.RawMessage) (Module, *protocol.Indication, error) {
		params := VideoMixerParams{Fader: 1}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, nil, err
			}
		}
		mixer := &VideoMixer{params: sanitizeVideoMixerParams(params)}
		return mixer, nil, nil
	})
}

func sanitizeVideoMixerParams(p VideoMixerParams) VideoMixerParams {
	p.Fader = clamp(p.Fader, 0, 1)
	p.A = clampChannel(p.A)
	p.B = clampChannel(p.B)
	return p
}

func clampChannel(ch *int) *int {
	if ch == nil || *ch < 0 || *ch >= VideoMixerChannels {
		return nil
	}
	return ch
}

func (v *VideoMixer) Params() protocol.ModuleParams {
	return makeParams(KindVideoMixer, v.params)
}

func (v *VideoMixer) Inputs() []protocol.Terminal {
	inputs := make([]protocol.Terminal, VideoMixerChannels)
	for i := range inputs {
		inputs[i] = protocol.Terminal{Label: channelLabel(i), Type: protocol.LineVideo}
	}
	return inputs
}

func (v *VideoMixer) Outputs() []protocol.Terminal {
	return []protocol.Terminal{
		{Label: "Output", Type: protocol.LineVideo},
		{Label: "A", Type: protocol.LineVideo},
		{Label: "B", Type: protocol.LineVideo},
	}
}

func (v *VideoMixer) Update(params protocol.ModuleParams) *protocol.Indication {
	var p VideoMixerParams
	if err := json.Unmarshal(params.Data, &p); err == nil {
		v.params = sanitizeVideoMixerParams(p)
	}
	return nil
}

func (v *VideoMixer) RunTick(offset uint64, inputs []InputRef, outputs []*Output) *protocol.Indication {
	now := time.Duration(offset) * time.Second / protocol.SampleRate

	// expire stored frames
	for i := range v.channels {
		if v.channels[i].frame != nil && now >= v.channels[i].activeUntil {
			v.channels[i].frame = nil
		}
	}

	// receive new input frames
	for i := 0; i < VideoMixerChannels; i++ {
		if frame := inputs[i].Frame(); frame != nil {
			hint := frame.DurationHint
			if hint <= 0 {
				hint = TickDuration
			}
			v.channels[i] = storedFrame{
				frame:       frame,
				activeUntil: now + frame.TickOffset + hint,
			}
		}
	}

	frameA := v.busFrame(v.params.A)
	frameB := v.busFrame(v.params.B)

	// bus preview outputs
	outputs[1].SetFrame(frameA)
	outputs[2].SetFrame(frameB)

	outputs[0].SetFrame(composeFrames(frameA, frameB, v.params.Fader))
	return nil
}

func (v *VideoMixer) busFrame(ch *int) *VideoFrame {
	if ch == nil {
		return nil
	}
	return v.channels[*ch].frame
}

// composeFrames crossfades two frames component-wise when their pictures are
// compatible; otherwise it picks whichever side the fader favours.
func composeFrames(a, b *VideoFrame, fader float64) *VideoFrame {
	switch {
	case a == nil && b == nil:
		return nil
	case b == nil:
		return a
	case a == nil:
		return b
	}

	if a.Width != b.Width || a.Height != b.Height || len(a.Data) != len(b.Data) {
		if fader >= 0.5 {
			return a
		}
		return b
	}

	fade := uint16(fader * 255)
	data := make([]byte, len(a.Data))
	for i := range data {
		aComponent := uint16(a.Data[i]) * fade
		bComponent := uint16(b.Data[i]) * (255 - fade)
		data[i] = byte((aComponent + bComponent) / 255)
	}

	return &VideoFrame{
		Width:        a.Width,
		Height:       a.Height,
		Data:         data,
		DurationHint: TickDuration,
	}
}
