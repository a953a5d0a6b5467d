package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/realtime"
)

type fakeIssuer struct {
	token *realtime.Token
	err   error
}

func (f *fakeIssuer) Mint(ctx context.Context) (*realtime.Token, error) {
	return f.token, f.err
}

func TestSessionHandler_RoundTrip(t *testing.T) {
	expires := time.Unix(1734400000, 0).UTC()
	issuer := &fakeIssuer{token: &realtime.Token{
		Value:     "ek_123",
		ExpiresAt: expires,
		SessionID: "sess_1",
		Model:     "gpt-4o-realtime-preview-2024-12-17",
		Voice:     "alloy",
	}}

	server := httptest.NewServer(SessionHandler(issuer, zerolog.Nop()))
	defer server.Close()

	token, err := NewSessionClient(server.URL, 5*time.Second).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if token.Value != "ek_123" || token.Voice != "alloy" || !token.ExpiresAt.Equal(expires) {
		t.Errorf("Unexpected token %+v", token)
	}
}

func TestSessionHandler_MintFailure(t *testing.T) {
	server := httptest.NewServer(SessionHandler(&fakeIssuer{err: errors.New("realtime session error: 401 - bad key")}, zerolog.Nop()))
	defer server.Close()

	_, err := NewSessionClient(server.URL, 5*time.Second).Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("Expected 502 with details, got %v", err)
	}
}

func TestSessionHandler_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	SessionHandler(&fakeIssuer{}, zerolog.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestSessionClient_MissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m"}`))
	}))
	defer server.Close()

	if _, err := NewSessionClient(server.URL, time.Second).Fetch(context.Background()); err == nil {
		t.Error("Expected error when no token is returned")
	}
}
