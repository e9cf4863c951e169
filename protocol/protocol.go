// Package protocol defines the wire-visible data model shared between the
// mixlab engine and its clients: identifiers, signal line types, client
// operations, authoritative server updates, and workspace snapshots.
//
// The engine treats module parameters and indications as opaque payloads;
// only the modules themselves decode them.
package protocol

// Tick constants. These are wire-visible via audio buffer sizes: a mono audio
// buffer carries SamplesPerTick float32 samples per tick, a stereo buffer
// carries Channels * SamplesPerTick interleaved samples.
const (
	SampleRate     = 44100
	TicksPerSecond = 60
	SamplesPerTick = SampleRate / TicksPerSecond
	Channels       = 2
)
