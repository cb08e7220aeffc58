// Package registry is the best-effort driver-registry collaborator
// (E5): it flips a driver's availability once a dispatch assigns them,
// but a failure here never affects the Dispatch outcome, which remains
// ground truth.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-matching/internal/models"
)

// Client sets a driver's availability on the external driver service.
type Client interface {
	SetAvailability(ctx context.Context, driverID string, availability models.Availability) error
}

// HTTPClient is a thin wrapper posting availability changes to the
// driver registry's HTTP API.
type HTTPClient struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (h *HTTPClient) SetAvailability(ctx context.Context, driverID string, availability models.Availability) error {
	body, err := json.Marshal(map[string]string{"availability": string(availability)})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/drivers/%s/availability", h.Endpoint, driverID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("set availability: status %d", resp.StatusCode)
	}
	return nil
}

// NoopClient is used when no driver registry is configured; every call
// succeeds without doing anything, matching the "best-effort" contract.
type NoopClient struct{}

func (NoopClient) SetAvailability(context.Context, string, models.Availability) error { return nil }
