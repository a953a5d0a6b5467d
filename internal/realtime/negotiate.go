package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody caps how much of an error response is kept
const maxErrorBody = 64 << 10

// NegotiationError is returned when the realtime endpoint rejects an offer
type NegotiationError struct {
	StatusCode int
	Body       string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("realtime API error: %d - %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code to retry classification
func (e *NegotiationError) HTTPStatus() int {
	return e.StatusCode
}

// Negotiator exchanges an SDP offer for an answer over HTTPS
type Negotiator struct {
	BaseURL string
	Model   string
	Voice   string
	Client  *http.Client
}

// NewNegotiator creates a negotiator with its own HTTP client
func NewNegotiator(baseURL, model, voice string, timeout time.Duration) *Negotiator {
	return &Negotiator{
		BaseURL: baseURL,
		Model:   model,
		Voice:   voice,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the URL the offer is posted to
func (n *Negotiator) Endpoint() string {
	q := url.Values{}
	q.Set("model", n.Model)
	q.Set("voice", n.Voice)
	return n.BaseURL + "?" + q.Encode()
}

// Exchange posts the offer with bearer auth and returns the answer SDP.
// There is no retry here; a non-2xx response is a *NegotiationError.
func (n *Negotiator) Exchange(ctx context.Context, token, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint(), strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("failed to build negotiation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/sdp")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach realtime API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &NegotiationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read SDP answer: %w", err)
	}
	if strings.TrimSpace(string(answer)) == "" {
		return "", fmt.Errorf("realtime API returned an empty SDP answer")
	}

	return string(answer), nil
}
