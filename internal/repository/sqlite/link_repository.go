package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// LinkRepository implements repository.LinkRepository: the confirm/reject
// state for correlations the linking engine proposes between entries on
// different sources.
type LinkRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewLinkRepository(db *sql.DB, log zerolog.Logger) *LinkRepository {
	return &LinkRepository{db: db, log: log.With().Str("repository", "link").Logger()}
}

func (r *LinkRepository) Create(ctx context.Context, link domain.Link) (string, error) {
	id := link.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	status := link.Status
	if status == "" {
		status = domain.LinkSuggested
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO links (id, user_id, source_entry_id, target_entry_id, confidence, variance, status, strategy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_entry_id, target_entry_id) DO NOTHING
	`, id, link.UserID, link.SourceEntryID, link.TargetEntryID, link.Confidence, link.Variance, string(status), string(link.Strategy), now, now)
	if err != nil {
		return "", fmt.Errorf("create link: %w", err)
	}
	return id, nil
}

func (r *LinkRepository) FindPending(ctx context.Context, userID string, since time.Time) ([]domain.Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, source_entry_id, target_entry_id, confidence, variance, status, strategy, created_at, updated_at
		FROM links
		WHERE user_id = ? AND status = ? AND created_at >= ?
		ORDER BY created_at ASC
	`, userID, string(domain.LinkSuggested), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("find pending links: %w", err)
	}
	defer rows.Close()

	var links []domain.Link
	for rows.Next() {
		var l domain.Link
		if err := rows.Scan(&l.ID, &l.UserID, &l.SourceEntryID, &l.TargetEntryID, &l.Confidence, &l.Variance, &l.Status, &l.Strategy, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// UpdateStatus transitions a link's status, enforcing the state machine:
// suggested -> confirmed|rejected, confirmed -> rejected, rejected is
// terminal.
func (r *LinkRepository) UpdateStatus(ctx context.Context, linkID string, status domain.LinkStatus) error {
	var current domain.LinkStatus
	if err := r.db.QueryRowContext(ctx, `SELECT status FROM links WHERE id = ?`, linkID).Scan(&current); err != nil {
		return fmt.Errorf("find link: %w", err)
	}
	if !validTransition(current, status) {
		return fmt.Errorf("invalid link transition %s -> %s", current, status)
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE links SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), linkID)
	if err != nil {
		return fmt.Errorf("update link status: %w", err)
	}
	return nil
}

func validTransition(from, to domain.LinkStatus) bool {
	switch from {
	case domain.LinkSuggested:
		return to == domain.LinkConfirmed || to == domain.LinkRejected
	case domain.LinkConfirmed:
		return to == domain.LinkRejected
	default:
		return false
	}
}
