package realtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/realtime"
)

const (
	// CallsEndpoint is the endpoint for WebRTC SDP exchange.
	CallsEndpoint = "https://api.openai.com/v1/realtime/calls"

	// DefaultModel is the realtime model used when none is configured.
	DefaultModel = "gpt-realtime"
)

// ClientSecret holds the ephemeral key minted for one session.
type ClientSecret struct {
	Value     string
	ExpiresAt int64
}

// httpClient is a package-level client with connection reuse.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// SessionConfig holds configuration for minting a realtime session.
type SessionConfig struct {
	Model        string // Realtime model, e.g. "gpt-realtime"
	Instructions string // Agent instructions for the opening configuration
}

// CreateClientSecret mints a new ephemeral realtime session credential.
// The secret authorizes exactly one transport handshake and expires shortly
// after issuance.
func CreateClientSecret(ctx context.Context, apiKey string, cfg SessionConfig) (*ClientSecret, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	session := &realtime.RealtimeSessionCreateRequestParam{
		Model: realtime.RealtimeSessionCreateRequestModel(model),
	}
	if cfg.Instructions != "" {
		session.Instructions = openai.String(cfg.Instructions)
	}

	params := realtime.ClientSecretNewParams{
		Session: realtime.ClientSecretNewParamsSessionUnion{
			OfRealtime: session,
		},
	}
	resp, err := client.Realtime.ClientSecrets.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create client secret: %w", err)
	}

	return &ClientSecret{
		Value:     resp.Value,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// ExchangeSDP sends the local SDP offer and receives the SDP answer.
func ExchangeSDP(ctx context.Context, offer, ephemeralKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, CallsEndpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+ephemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}

	return string(body), nil
}
