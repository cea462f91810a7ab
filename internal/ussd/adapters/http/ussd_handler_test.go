package http_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter_http "github.com/satmobi/satsgate/internal/ussd/adapters/http"
	"github.com/satmobi/satsgate/internal/ussd/app"
	"github.com/satmobi/satsgate/internal/ussd/domain"
)

type scriptedProcessor struct {
	reply *app.Reply
	err   error

	gotSessionID string
	gotPhone     string
	gotTrail     string
}

func (p *scriptedProcessor) Handle(_ context.Context, sessionID, phone, inputTrail string) (*app.Reply, error) {
	p.gotSessionID = sessionID
	p.gotPhone = phone
	p.gotTrail = inputTrail
	if p.err != nil {
		return nil, p.err
	}
	return p.reply, nil
}

func postCallback(t *testing.T, handler *adapter_http.USSDHandler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ussd", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.HandleCallback(rr, req)
	return rr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUSSDHandler_ContinueReply(t *testing.T) {
	proc := &scriptedProcessor{reply: &app.Reply{Text: "Enter amount in sats to send:"}}
	handler := adapter_http.NewUSSDHandler(proc, discardLogger())

	rr := postCallback(t, handler, url.Values{
		"sessionId":   {"ATUid_123"},
		"phoneNumber": {"+254712345678"},
		"text":        {"1*0700000002"},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "CON Enter amount in sats to send:", rr.Body.String())
	assert.Equal(t, "ATUid_123", proc.gotSessionID)
	assert.Equal(t, "+254712345678", proc.gotPhone)
	assert.Equal(t, "1*0700000002", proc.gotTrail)
}

func TestUSSDHandler_TerminateReply(t *testing.T) {
	proc := &scriptedProcessor{reply: &app.Reply{Text: "Goodbye.", Terminate: true}}
	handler := adapter_http.NewUSSDHandler(proc, discardLogger())

	rr := postCallback(t, handler, url.Values{
		"sessionId":   {"ATUid_123"},
		"phoneNumber": {"+254712345678"},
		"text":        {"0"},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "END Goodbye.", rr.Body.String())
}

func TestUSSDHandler_MissingFields(t *testing.T) {
	proc := &scriptedProcessor{reply: &app.Reply{Text: "should not be reached"}}
	handler := adapter_http.NewUSSDHandler(proc, discardLogger())

	rr := postCallback(t, handler, url.Values{"text": {"1"}})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "END Invalid request.", rr.Body.String())
	assert.Empty(t, proc.gotSessionID)
}

func TestUSSDHandler_PhoneMismatch(t *testing.T) {
	proc := &scriptedProcessor{err: domain.ErrSessionPhoneMismatch}
	handler := adapter_http.NewUSSDHandler(proc, discardLogger())

	rr := postCallback(t, handler, url.Values{
		"sessionId":   {"ATUid_123"},
		"phoneNumber": {"+254712345678"},
		"text":        {"1"},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "END Session does not belong to this phone number.", rr.Body.String())
}

func TestUSSDHandler_InternalErrorIsMasked(t *testing.T) {
	proc := &scriptedProcessor{err: errors.New("pool exhausted")}
	handler := adapter_http.NewUSSDHandler(proc, discardLogger())

	rr := postCallback(t, handler, url.Values{
		"sessionId":   {"ATUid_123"},
		"phoneNumber": {"+254712345678"},
		"text":        {""},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "END Service temporarily unavailable. Please try again later.", rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "pool exhausted")
}
