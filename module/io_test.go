package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwp001/mixlab/protocol"
)

func TestNewOutputSizing(t *testing.T) {
	mono := NewOutput(protocol.LineMono)
	require.Len(t, mono.Audio(), protocol.SamplesPerTick)

	stereo := NewOutput(protocol.LineStereo)
	require.Len(t, stereo.Audio(), 2*protocol.SamplesPerTick)
	for _, sample := range stereo.Audio() {
		require.Zero(t, sample)
	}

	video := NewOutput(protocol.LineVideo)
	assert.Nil(t, video.Audio())
	assert.Nil(t, video.Frame())
}

func TestDisconnectedInput(t *testing.T) {
	assert.False(t, Disconnected.Connected())
	assert.Nil(t, Disconnected.Audio())
	assert.Nil(t, Disconnected.Frame())

	// Audio resolvers substitute type-appropriate defaults
	silence := StereoOrSilence(Disconnected)
	require.Len(t, silence, 2*protocol.SamplesPerTick)
	assert.Zero(t, silence[0])

	ones := MonoOrOnes(Disconnected)
	require.Len(t, ones, protocol.SamplesPerTick)
	assert.Equal(t, float32(1), ones[0])
}

func TestInputRefViewsProducerBuffer(t *testing.T) {
	out := NewOutput(protocol.LineMono)
	out.Audio()[0] = 0.5

	ref := out.AsInput()
	require.True(t, ref.Connected())
	assert.Equal(t, float32(0.5), ref.Audio()[0])

	video := NewOutput(protocol.LineVideo)
	frame := &VideoFrame{Width: 2, Height: 2, Data: make([]byte, 4)}
	video.SetFrame(frame)
	assert.Same(t, frame, video.AsInput().Frame())
}
