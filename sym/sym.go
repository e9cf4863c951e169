// Package sym defines canonical symbols for mixlab subsystems and system
// markers. These symbols are stable across log output, CLI, and documentation.
package sym

// Glyph string constants — the visual expression of each subsystem.
const (
	Engine  = "♪" // engine — tick loop and workspace
	Patch   = "⌁" // patch — connections between module terminals
	Session = "⌬" // session — a connected client
	Perf    = "Δ" // perf — timing accountant output
	DB      = "⛁" // db — workspace persistence
	Task    = "✿" // task — module side-task workers
)

// Names maps each glyph back to its subsystem name, for UIs that want to
// render a legend.
var Names = map[string]string{
	Engine:  "engine",
	Patch:   "patch",
	Session: "session",
	Perf:    "perf",
	DB:      "db",
	Task:    "task",
}
