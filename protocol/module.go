package protocol

import "encoding/json"

// LineType is the signal type carried by a module terminal. The enumeration
// is closed: connections are only valid between terminals of equal type.
type LineType string

const (
	LineMono   LineType = "mono"
	LineStereo LineType = "stereo"
	LineVideo  LineType = "video"
)

// BufferLen returns the number of float32 samples an audio buffer of this
// line type holds per tick. Video lines carry no sample buffer.
func (t LineType) BufferLen() int {
	switch t {
	case LineMono:
		return SamplesPerTick
	case LineStereo:
		return Channels * SamplesPerTick
	default:
		return 0
	}
}

// Terminal describes one input or output of a module: a label for UI display
// and the line type that constrains what it may connect to. The terminal list
// of a module is fixed once created.
type Terminal struct {
	Label string   `json:"label,omitempty"`
	Type  LineType `json:"type"`
}

// LineTypes projects a terminal list onto its line types.
func LineTypes(terminals []Terminal) []LineType {
	types := make([]LineType, len(terminals))
	for i, t := range terminals {
		types[i] = t.Type
	}
	return types
}

// ModuleParams carries a module's construction/update parameters. Kind
// selects the module implementation; Data is decoded by the module itself and
// is opaque to the engine.
type ModuleParams struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Indication is optional per-tick observable state a module exposes, e.g. a
// VU meter reading. Opaque to the engine; it replaces the previous indication
// monotonically.
type Indication struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WindowGeometry is per-module window placement. The engine attaches no
// semantics to it; it is stored and passed through to clients.
type WindowGeometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Z      int `json:"z"`
	Width  int `json:"width"`
	Height int `json:"height"`
}
