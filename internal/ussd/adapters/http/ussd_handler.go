package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/satmobi/satsgate/internal/ussd/app"
	"github.com/satmobi/satsgate/internal/ussd/domain"
)

// SessionProcessor is the slice of the session state machine the gateway
// handler needs. Keeping it an interface makes the handler testable with a
// scripted processor.
type SessionProcessor interface {
	Handle(ctx context.Context, sessionID, phone, inputTrail string) (*app.Reply, error)
}

// USSDHandler terminates the aggregator's form-encoded callback and renders
// replies in the CON/END dialect the aggregator expects.
type USSDHandler struct {
	sessions SessionProcessor
	logger   *slog.Logger
}

func NewUSSDHandler(sessions SessionProcessor, logger *slog.Logger) *USSDHandler {
	return &USSDHandler{
		sessions: sessions,
		logger:   logger.With("component", "ussd_handler"),
	}
}

// HandleCallback processes one gateway callback. The aggregator resends the
// whole input trail on every call, so each request is self-contained.
//
// The response is always 200 with a plain-text body: aggregators treat
// non-200 responses as gateway failures and show the subscriber a generic
// error, so application problems are reported as END messages instead.
func (h *USSDHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	if err := r.ParseForm(); err != nil {
		logger.WarnContext(ctx, "malformed gateway callback", "error", err)
		writeReply(w, "END Invalid request.")
		return
	}

	sessionID := r.PostFormValue("sessionId")
	phone := r.PostFormValue("phoneNumber")
	text := r.PostFormValue("text")

	if sessionID == "" || phone == "" {
		logger.WarnContext(ctx, "gateway callback missing required fields",
			"session_id_present", sessionID != "", "phone_present", phone != "")
		writeReply(w, "END Invalid request.")
		return
	}

	reply, err := h.sessions.Handle(ctx, sessionID, phone, text)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPhoneNumber):
			logger.WarnContext(ctx, "rejected callback with invalid phone", "session_id", sessionID)
			writeReply(w, "END Invalid phone number.")
		case errors.Is(err, domain.ErrSessionPhoneMismatch):
			logger.WarnContext(ctx, "rejected callback with mismatched phone", "session_id", sessionID)
			writeReply(w, "END Session does not belong to this phone number.")
		default:
			logger.ErrorContext(ctx, "session handling failed", "session_id", sessionID, "error", err)
			writeReply(w, "END Service temporarily unavailable. Please try again later.")
		}
		return
	}

	if reply.Terminate {
		writeReply(w, "END "+reply.Text)
	} else {
		writeReply(w, "CON "+reply.Text)
	}
}

func writeReply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
