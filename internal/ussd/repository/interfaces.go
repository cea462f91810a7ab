package repository

import (
	"context"
	"time"

	"github.com/satmobi/satsgate/internal/platform/database"
	"github.com/satmobi/satsgate/internal/ussd/domain"
)

// SessionRepository persists USSD sessions. The state machine is the only
// writer.
type SessionRepository interface {
	// GetOrCreateForUpdate loads the session row under an exclusive hold,
	// creating it first if the session id has not been seen. The hold
	// serializes concurrent requests for the same session id.
	GetOrCreateForUpdate(ctx context.Context, q database.Querier, sessionID, phone string) (*domain.Session, error)

	// Update persists state, buffer, step counter, activity and active flag.
	Update(ctx context.Context, q database.Querier, sess *domain.Session) error

	// ReapIdle marks sessions inactive whose last activity is before the
	// cutoff. Returns how many rows changed.
	ReapIdle(ctx context.Context, q database.Querier, cutoff time.Time) (int64, error)

	// PurgeDead deletes inactive sessions older than the cutoff.
	PurgeDead(ctx context.Context, q database.Querier, cutoff time.Time) (int64, error)
}
