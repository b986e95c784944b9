package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// LinkCandidateRepository implements repository.LinkCandidateRepository,
// projecting entries joined with their owning transaction into the shape
// the linking engine matches over.
type LinkCandidateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewLinkCandidateRepository(db *sql.DB, log zerolog.Logger) *LinkCandidateRepository {
	return &LinkCandidateRepository{db: db, log: log.With().Str("repository", "link_candidate").Logger()}
}

// ListSince returns every entry posted for userID at or after since,
// tagged with its transaction's source and external id (reused as a
// blockchain tx hash where applicable; see domain.LinkCandidate).
func (r *LinkCandidateRepository) ListSince(ctx context.Context, userID string, since time.Time) ([]domain.LinkCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.user_id, t.source, e.currency_ticker, e.amount_smallest, e.direction, t.tx_date, t.external_id
		FROM entries e
		JOIN ledger_transactions t ON t.id = e.transaction_id
		WHERE e.user_id = ? AND t.tx_date >= ?
		ORDER BY t.tx_date ASC
	`, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list link candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.LinkCandidate
	for rows.Next() {
		var c domain.LinkCandidate
		if err := rows.Scan(&c.EntryID, &c.UserID, &c.Source, &c.Asset, &c.Amount, &c.Direction, &c.Timestamp, &c.TxHash); err != nil {
			return nil, fmt.Errorf("scan link candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
