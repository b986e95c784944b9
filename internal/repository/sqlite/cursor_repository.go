package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// CursorRepository implements repository.CursorRepository, keyed on the
// composite (user, source, provider, operation, address) scan identity.
type CursorRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewCursorRepository(db *sql.DB, log zerolog.Logger) *CursorRepository {
	return &CursorRepository{db: db, log: log.With().Str("repository", "cursor").Logger()}
}

func (r *CursorRepository) Load(ctx context.Context, userID, source, provider, operation, address string) (domain.ProviderCursor, bool, error) {
	var c domain.ProviderCursor
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, source, provider, operation, address, type, value, updated_at
		FROM provider_cursors
		WHERE user_id = ? AND source = ? AND provider = ? AND operation = ? AND address = ?
	`, userID, source, provider, operation, address).Scan(
		&c.UserID, &c.Source, &c.Provider, &c.Operation, &c.Address, &c.Type, &c.Value, &c.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProviderCursor{}, false, nil
	}
	if err != nil {
		return domain.ProviderCursor{}, false, fmt.Errorf("load cursor: %w", err)
	}
	return c, true, nil
}

func (r *CursorRepository) Save(ctx context.Context, cursor domain.ProviderCursor) error {
	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO provider_cursors (user_id, source, provider, operation, address, type, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, source, provider, operation, address) DO UPDATE SET
			type = excluded.type,
			value = excluded.value,
			updated_at = excluded.updated_at
	`, cursor.UserID, cursor.Source, cursor.Provider, cursor.Operation, cursor.Address, string(cursor.Type), cursor.Value, updatedAt)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
