package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RawDataRepository implements repository.RawDataRepository: an append-only
// provenance log, one row per payload fetched during an import session.
type RawDataRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRawDataRepository(db *sql.DB, log zerolog.Logger) *RawDataRepository {
	return &RawDataRepository{db: db, log: log.With().Str("repository", "raw_data").Logger()}
}

func (r *RawDataRepository) Append(ctx context.Context, sessionID, providerID string, payload []byte, fetchedByAddress string) (string, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_data (id, session_id, provider_id, payload, fetched_by_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, sessionID, providerID, payload, fetchedByAddress, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("append raw data: %w", err)
	}
	return id, nil
}
