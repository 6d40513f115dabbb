// Package push links session IDs to device push tokens on an external push
// gateway, so a relay can wake the device for messages queued while offline.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

var ErrGatewayRejected = errors.New("push gateway rejected the request")

// Registration links a session to a device token
type Registration struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Platform  string `json:"platform"`
}

// Registrar manages the session-to-token link on the gateway. Register is
// called when the session comes online, Unlink on logout or account deletion.
type Registrar interface {
	Register(ctx context.Context, reg *Registration) error
	Unlink(ctx context.Context, sessionID string) error
}

// HTTPRegistrar talks to the push gateway's HTTP API
type HTTPRegistrar struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRegistrar creates a registrar for the gateway at baseURL
func NewHTTPRegistrar(baseURL string) *HTTPRegistrar {
	return &HTTPRegistrar{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Register links the session to a device token
func (r *HTTPRegistrar) Register(ctx context.Context, reg *Registration) error {
	if err := r.post(ctx, "/api/v1/push/register", reg); err != nil {
		return err
	}
	log.Printf("🔔 Push token registered for %s (%s)", reg.SessionID, reg.Platform)
	return nil
}

// Unlink removes every token linked to the session
func (r *HTTPRegistrar) Unlink(ctx context.Context, sessionID string) error {
	payload := map[string]string{"sessionId": sessionID}
	if err := r.post(ctx, "/api/v1/push/unlink", payload); err != nil {
		return err
	}
	log.Printf("🔕 Push tokens unlinked for %s", sessionID)
	return nil
}

func (r *HTTPRegistrar) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrGatewayRejected, resp.Status, string(detail))
	}
	return nil
}

// NoopRegistrar satisfies Registrar when push is disabled
type NoopRegistrar struct{}

func (NoopRegistrar) Register(context.Context, *Registration) error { return nil }
func (NoopRegistrar) Unlink(context.Context, string) error          { return nil }
