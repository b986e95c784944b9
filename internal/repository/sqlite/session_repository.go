package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// SessionRepository implements repository.SessionRepository.
type SessionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewSessionRepository(db *sql.DB, log zerolog.Logger) *SessionRepository {
	return &SessionRepository{db: db, log: log.With().Str("repository", "session").Logger()}
}

func (r *SessionRepository) Create(ctx context.Context, session domain.ImportSession) (string, error) {
	id := session.ID
	if id == "" {
		id = uuid.New().String()
	}
	startedAt := session.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO import_sessions (id, user_id, source_id, source_type, provider_id, status, started_at, imported, processed, failed, error_msg)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, '')
	`, id, session.UserID, session.SourceID, string(session.SourceType), session.ProviderID, string(domain.SessionStarted), startedAt)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	r.log.Info().Str("session_id", id).Str("source_id", session.SourceID).Msg("import session started")
	return id, nil
}

func (r *SessionRepository) Finalize(ctx context.Context, sessionID string, status domain.SessionStatus, imported, processed, failed int, errMsg string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_sessions
		SET status = ?, ended_at = ?, imported = ?, processed = ?, failed = ?, error_msg = ?
		WHERE id = ?
	`, string(status), now, imported, processed, failed, errMsg, sessionID)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if n == 0 {
		return &domain.SessionNotFoundError{SessionID: sessionID}
	}
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, sessionID string) (domain.ImportSession, bool, error) {
	var s domain.ImportSession
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, source_id, source_type, provider_id, status, started_at, ended_at, imported, processed, failed, error_msg
		FROM import_sessions WHERE id = ?
	`, sessionID).Scan(
		&s.ID, &s.UserID, &s.SourceID, &s.SourceType, &s.ProviderID, &s.Status,
		&s.StartedAt, &endedAt, &s.Imported, &s.Processed, &s.Failed, &s.ErrorMsg,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImportSession{}, false, nil
	}
	if err != nil {
		return domain.ImportSession{}, false, fmt.Errorf("find session: %w", err)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return s, true, nil
}
