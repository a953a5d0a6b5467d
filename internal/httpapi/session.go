package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/realtime"
)

// TokenIssuer mints realtime session credentials
type TokenIssuer interface {
	Mint(ctx context.Context) (*realtime.Token, error)
}

// SessionHandler mints an ephemeral realtime token so the API key never
// leaves the server
func SessionHandler(issuer TokenIssuer, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
			return
		}

		token, err := issuer.Mint(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to mint realtime token")
			writeError(w, http.StatusBadGateway, "Failed to create session", err.Error())
			return
		}

		logger.Info().
			Str("session_id", token.SessionID).
			Time("expires_at", token.ExpiresAt).
			Msg("Realtime session created")

		writeJSON(w, http.StatusOK, token)
	}
}

// SessionClient fetches realtime tokens from SessionHandler
type SessionClient struct {
	URL    string
	Client *http.Client
}

func NewSessionClient(url string, timeout time.Duration) *SessionClient {
	return &SessionClient{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Fetch requests a new token
func (c *SessionClient) Fetch(ctx context.Context) (*realtime.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return nil, fmt.Errorf("session endpoint returned %d: %s", resp.StatusCode, apiErr.Details)
	}

	var token realtime.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if token.Value == "" {
		return nil, fmt.Errorf("session response carried no token")
	}
	return &token, nil
}
