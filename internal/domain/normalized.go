package domain

import "time"

// NormalizedRecord is the provider-agnostic representation of a single raw
// record produced by a mapper. Processors group and
// interpret NormalizedRecords; they never see provider-specific payloads.
type NormalizedRecord struct {
	ProviderID    string // provenance, set by every mapper
	CorrelationID string // groups related records (order id, tx hash, ...)
	OrderID       string
	ExternalID    string // provider-given id for this economic event
	Timestamp     time.Time // epoch-ms UTC, normalized by the mapper
	Asset         string
	Amount        string // decimal string, signed: positive = inflow, negative = outflow
	FeeAsset      string
	FeeAmount     string // decimal string, non-negative magnitude
	Direction     string // transfer_in | transfer_out | internal_transfer | trade | ""
	TxHash        string // blockchain tx hash, when applicable (used by the linking engine)
	Raw           map[string]any
}

// MappingError is returned by a mapper when a raw record cannot be
// normalized even though it passed schema validation at the client boundary.
type MappingError struct {
	ProviderID string
	Reason     string
}

func (e *MappingError) Error() string {
	return "mapping failed for provider " + e.ProviderID + ": " + e.Reason
}
