package protocol

// WorkspaceState is the full snapshot handed to a session when it connects.
// Entries are ordered by ascending module id so snapshots are reproducible.
type WorkspaceState struct {
	Modules     []ModuleEntry     `json:"modules"`
	Geometry    []GeometryEntry   `json:"geometry"`
	Indications []IndicationEntry `json:"indications"`
	Connections []ConnectionEntry `json:"connections"`
	Inputs      []TerminalsEntry  `json:"inputs"`
	Outputs     []TerminalsEntry  `json:"outputs"`
}

type ModuleEntry struct {
	ID     ModuleId     `json:"id"`
	Params ModuleParams `json:"params"`
}

type GeometryEntry struct {
	ID       ModuleId       `json:"id"`
	Geometry WindowGeometry `json:"geometry"`
}

type IndicationEntry struct {
	ID         ModuleId   `json:"id"`
	Indication Indication `json:"indication"`
}

type ConnectionEntry struct {
	Input  InputId  `json:"input"`
	Output OutputId `json:"output"`
}

type TerminalsEntry struct {
	ID        ModuleId   `json:"id"`
	Terminals []Terminal `json:"terminals"`
}
