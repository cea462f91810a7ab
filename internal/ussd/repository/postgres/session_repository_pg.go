package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satmobi/satsgate/internal/platform/database"
	"github.com/satmobi/satsgate/internal/ussd/domain"
	"github.com/satmobi/satsgate/internal/ussd/repository"
)

type pgSessionRepository struct{}

// NewPgSessionRepository creates the PostgreSQL SessionRepository.
func NewPgSessionRepository() repository.SessionRepository {
	return &pgSessionRepository{}
}

func (r *pgSessionRepository) GetOrCreateForUpdate(ctx context.Context, q database.Querier, sessionID, phone string) (*domain.Session, error) {
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO ussd_sessions (session_id, phone_number, current_state, input_buffer,
		                           step_count, is_active, last_activity, created_at)
		VALUES ($1, $2, $3, '{}', 0, TRUE, $4, $4)
		ON CONFLICT (session_id) DO NOTHING`,
		sessionID, phone, domain.StateMainMenu, now,
	)
	if err != nil {
		return nil, err
	}

	sess := &domain.Session{}
	var bufferJSON []byte
	var state string
	err = q.QueryRow(ctx, `
		SELECT session_id, phone_number, current_state, input_buffer, step_count,
		       is_active, last_activity, created_at, last_reply_text, last_reply_final
		FROM ussd_sessions
		WHERE session_id = $1
		FOR UPDATE`, sessionID).Scan(
		&sess.SessionID, &sess.PhoneNumber, &state, &bufferJSON, &sess.StepCount,
		&sess.IsActive, &sess.LastActivity, &sess.CreatedAt,
		&sess.LastReplyText, &sess.LastReplyFinal,
	)
	if err != nil {
		return nil, err
	}
	sess.CurrentState = domain.MenuState(state)

	sess.InputBuffer = map[string]string{}
	if len(bufferJSON) > 0 {
		if err := json.Unmarshal(bufferJSON, &sess.InputBuffer); err != nil {
			return nil, fmt.Errorf("failed to decode session input buffer: %w", err)
		}
	}
	return sess, nil
}

func (r *pgSessionRepository) Update(ctx context.Context, q database.Querier, sess *domain.Session) error {
	bufferJSON, err := json.Marshal(sess.InputBuffer)
	if err != nil {
		return fmt.Errorf("failed to encode session input buffer: %w", err)
	}
	_, err = q.Exec(ctx, `
		UPDATE ussd_sessions
		SET current_state = $1, input_buffer = $2, step_count = $3,
		    is_active = $4, last_activity = $5,
		    last_reply_text = $6, last_reply_final = $7
		WHERE session_id = $8`,
		string(sess.CurrentState), bufferJSON, sess.StepCount,
		sess.IsActive, sess.LastActivity.UTC(),
		sess.LastReplyText, sess.LastReplyFinal, sess.SessionID,
	)
	return err
}

func (r *pgSessionRepository) ReapIdle(ctx context.Context, q database.Querier, cutoff time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE ussd_sessions
		SET is_active = FALSE
		WHERE is_active = TRUE AND last_activity < $1`,
		cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgSessionRepository) PurgeDead(ctx context.Context, q database.Querier, cutoff time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM ussd_sessions
		WHERE is_active = FALSE AND last_activity < $1`,
		cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
