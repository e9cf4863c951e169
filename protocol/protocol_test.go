package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplesPerTick(t *testing.T) {
	assert.Equal(t, 735, SamplesPerTick)
	assert.Equal(t, SamplesPerTick, LineMono.BufferLen())
	assert.Equal(t, 2*SamplesPerTick, LineStereo.BufferLen())
	assert.Equal(t, 0, LineVideo.BufferLen())
}

func TestOpClockCompare(t *testing.T) {
	a1 := OpClock{Session: 1, Sequence: 1}
	a2 := OpClock{Session: 1, Sequence: 2}
	b1 := OpClock{Session: 2, Sequence: 1}

	cmp, ok := a1.Compare(a2)
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	cmp, ok = a2.Compare(a1)
	require.True(t, ok)
	assert.Equal(t, 1, cmp)

	cmp, ok = a1.Compare(a1)
	require.True(t, ok)
	assert.Equal(t, 0, cmp)

	// Clocks from different sessions are incomparable
	_, ok = a1.Compare(b1)
	assert.False(t, ok)
}

func TestClientMessageRoundTrip(t *testing.T) {
	msg := ClientMessage{
		Sequence: 7,
		Op: ClientOp{
			CreateConnection: &CreateConnectionOp{
				Input:  InputId{Module: 2, Index: 0},
				Output: OutputId{Module: 1, Index: 1},
			},
		},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded ClientMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, msg, decoded)
	assert.Nil(t, decoded.Op.CreateModule)
}

func TestEngineEventOneField(t *testing.T) {
	ev := EngineEvent{Sync: &OpClock{Session: 3, Sequence: 9}}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sync":{"session":3,"sequence":9}}`, string(raw))
}
