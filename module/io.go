package module

import (
	"time"

	"github.com/lwp001/mixlab/protocol"
)

// VideoFrame carries one decoded picture and its timing metadata through the
// graph. Frame payloads are opaque to the engine; codec and scaler concerns
// live with the modules that produce them.
type VideoFrame struct {
	Width  int
	Height int
	// Data is the decoded picture, one byte per pixel component.
	Data []byte
	// DurationHint is how long the frame should stay live downstream.
	// Defaults to one tick; producers with real codec timing may diverge.
	DurationHint time.Duration
	// TickOffset is the frame's offset from the start of the tick that
	// produced it.
	TickOffset time.Duration
}

// TickDuration is the length of one tick.
const TickDuration = time.Second / protocol.TicksPerSecond

// Output is a per-tick signal buffer for one module output terminal. Audio
// outputs are zero-initialised to silence; video outputs start with an empty
// frame slot. Outputs are owned by the engine's buffer router for the
// duration of a single tick.
type Output struct {
	lineType protocol.LineType
	audio    []float32
	frame    *VideoFrame
}

// NewOutput constructs a buffer sized for the given line type.
func NewOutput(t protocol.LineType) *Output {
	out := &Output{lineType: t}
	if n := t.BufferLen(); n > 0 {
		out.audio = make([]float32, n)
	}
	return out
}

func (o *Output) LineType() protocol.LineType { return o.lineType }

// Audio is the writable sample buffer: SamplesPerTick floats for mono,
// interleaved 2*SamplesPerTick for stereo, nil for video.
func (o *Output) Audio() []float32 { return o.audio }

// SetFrame places a frame in a video output's slot. Leaving the slot empty is
// valid; downstream inputs read it as no-frame.
func (o *Output) SetFrame(f *VideoFrame) { o.frame = f }

func (o *Output) Frame() *VideoFrame { return o.frame }

// AsInput exposes the buffer as a read-only input view for downstream
// modules.
func (o *Output) AsInput() InputRef { return InputRef{out: o} }

// InputRef is the view a module receives for each of its inputs: either a
// read-only reference to an upstream output buffer, or the Disconnected zero
// value. Modules interpret Disconnected per line type: audio reads silence,
// video reads no-frame.
type InputRef struct {
	out *Output
}

// Disconnected is the sentinel input view for an unwired input.
var Disconnected = InputRef{}

func (r InputRef) Connected() bool { return r.out != nil }

// Audio returns the upstream sample buffer, or nil when disconnected.
// Callers must not write through the returned slice.
func (r InputRef) Audio() []float32 {
	if r.out == nil {
		return nil
	}
	return r.out.audio
}

// Frame returns the upstream frame, or nil when disconnected or when the
// producer left its slot empty this tick.
func (r InputRef) Frame() *VideoFrame {
	if r.out == nil {
		return nil
	}
	return r.out.frame
}

// Shared constant buffers for disconnected inputs. Read-only.
var (
	zeroBufferMono   = make([]float32, protocol.SamplesPerTick)
	zeroBufferStereo = make([]float32, protocol.Channels*protocol.SamplesPerTick)
	oneBufferMono    = func() []float32 {
		buf := make([]float32, protocol.SamplesPerTick)
		for i := range buf {
			buf[i] = 1.0
		}
		return buf
	}()
)

// StereoOrSilence resolves a stereo input to its samples, substituting
// silence when disconnected.
func StereoOrSilence(r InputRef) []float32 {
	if audio := r.Audio(); audio != nil {
		return audio
	}
	return zeroBufferStereo
}

// MonoOrSilence resolves a mono input to its samples, substituting silence
// when disconnected.
func MonoOrSilence(r InputRef) []float32 {
	if audio := r.Audio(); audio != nil {
		return audio
	}
	return zeroBufferMono
}

// MonoOrOnes resolves a mono control input, substituting unity when
// disconnected so modulation inputs default to a no-op.
func MonoOrOnes(r InputRef) []float32 {
	if audio := r.Audio(); audio != nil {
		return audio
	}
	return oneBufferMono
}
