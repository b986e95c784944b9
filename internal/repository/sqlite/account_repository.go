package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// AccountRepository implements repository.AccountRepository.
type AccountRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewAccountRepository(db *sql.DB, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{db: db, log: log.With().Str("repository", "account").Logger()}
}

// FindOrCreate resolves spec to its account row. Two callers racing on the
// same spec both attempt the insert; the loser hits the unique constraint
// and falls through to the select, converging on the same row rather than
// erroring or duplicating.
func (r *AccountRepository) FindOrCreate(ctx context.Context, userID string, spec domain.AccountSpec) (domain.Account, error) {
	if acc, ok, err := r.find(ctx, userID, spec); err != nil {
		return domain.Account{}, err
	} else if ok {
		return acc, nil
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	displayName := spec.DisplayName
	if displayName == "" {
		displayName = defaultAccountName(spec)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, user_id, display_name, currency_ticker, type, source, network, external_address, parent_account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id, userID, displayName, spec.CurrencyTicker, string(spec.Type), spec.Source,
		spec.Network, spec.ExternalAddress, nullStringPtr(spec.ParentAccountID), now, now,
	)

	if err != nil {
		if isUniqueViolation(err) {
			acc, ok, findErr := r.find(ctx, userID, spec)
			if findErr != nil {
				return domain.Account{}, findErr
			}
			if ok {
				return acc, nil
			}
		}
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}

	r.log.Debug().Str("account_id", id).Str("type", string(spec.Type)).Msg("account created")

	return domain.Account{
		ID:              id,
		UserID:          userID,
		DisplayName:     displayName,
		CurrencyTicker:  spec.CurrencyTicker,
		Type:            spec.Type,
		Source:          spec.Source,
		Network:         spec.Network,
		ExternalAddress: spec.ExternalAddress,
		ParentAccountID: spec.ParentAccountID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (r *AccountRepository) find(ctx context.Context, userID string, spec domain.AccountSpec) (domain.Account, bool, error) {
	var acc domain.Account
	var parentID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, display_name, currency_ticker, type, source, network, external_address, parent_account_id, created_at, updated_at
		FROM accounts
		WHERE user_id = ? AND currency_ticker = ? AND type = ? AND source = ? AND network = ? AND external_address = ?
	`, userID, spec.CurrencyTicker, string(spec.Type), spec.Source, spec.Network, spec.ExternalAddress,
	).Scan(&acc.ID, &acc.UserID, &acc.DisplayName, &acc.CurrencyTicker, &acc.Type, &acc.Source, &acc.Network, &acc.ExternalAddress, &parentID, &acc.CreatedAt, &acc.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("find account: %w", err)
	}
	if parentID.Valid {
		acc.ParentAccountID = &parentID.String
	}
	return acc, true, nil
}

func defaultAccountName(spec domain.AccountSpec) string {
	if spec.ExternalAddress != "" {
		return fmt.Sprintf("%s %s (%s)", spec.Source, spec.CurrencyTicker, spec.ExternalAddress)
	}
	return fmt.Sprintf("%s %s", spec.Source, spec.CurrencyTicker)
}

func nullStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "constraint failed: UNIQUE")
}
