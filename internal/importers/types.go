// Package importers holds the source-type-specific orchestration logic:
// exchange CSV, exchange API, blockchain address, blockchain xpub.
// Every importer produces the same shape of output — a stream of raw
// records tagged with a provider id, plus validation diagnostics collected
// per record rather than aborting the run.
package importers

import "time"

// RawRecord is one fetched/read record awaiting persistence by the
// orchestrator's import phase, tagged with its provenance.
type RawRecord struct {
	ProviderID       string
	Payload          map[string]any
	FetchedByAddress string // set for blockchain-scoped imports, empty otherwise
}

// ValidationIssue is a collected, non-aborting per-record diagnostic.
type ValidationIssue struct {
	RecordIndex int
	Reason      string
}

// CursorUpdate is an importer's proposed advancement of its resumable
// pagination state, persisted by the orchestrator via CursorRepository.
type CursorUpdate struct {
	Provider  string
	Operation string
	Address   string
	Type      string
	Value     string
	UpdatedAt time.Time
}

// Result is what every importer variant returns to the pipeline
// orchestrator's import phase.
type Result struct {
	Records []RawRecord
	Issues  []ValidationIssue
	Cursors []CursorUpdate
}
