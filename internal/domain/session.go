package domain

import "time"

// SessionStatus tracks an import session's lifecycle.
type SessionStatus string

const (
	SessionStarted   SessionStatus = "started"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// SourceType discriminates the four importer variants.
type SourceType string

const (
	SourceTypeExchangeCSV      SourceType = "exchange_csv"
	SourceTypeExchangeAPI      SourceType = "exchange_api"
	SourceTypeBlockchainAddr   SourceType = "blockchain_address"
	SourceTypeBlockchainXpub   SourceType = "blockchain_xpub"
)

// ImportSession is a per-user run token.
type ImportSession struct {
	ID         string
	UserID     string
	SourceID   string
	SourceType SourceType
	ProviderID string
	Status     SessionStatus
	StartedAt  time.Time
	EndedAt    *time.Time
	Imported   int
	Processed  int
	Failed     int
	ErrorMsg   string
}

// RawDataRecord is per-session provenance for a raw payload fetched from a provider.
type RawDataRecord struct {
	ID                string
	SessionID         string
	ProviderID        string
	Payload           []byte // opaque JSON
	CreatedAt         time.Time
	FetchedByAddress  string // marker for blockchain imports; empty for exchange sources
}
