package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// envelope is the stable wire shape for every event this bus emits,
// unifying what used to be three slightly different ad-hoc JSON bodies
// (plain HTTP post, FCM data message, WS passthrough).
type envelope struct {
	Event         string `json:"event"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Payload       any    `json:"payload"`
}

// HTTPBus posts events to a generic HTTP push-provider endpoint (e.g. an
// FCM-compatible gateway). It is the fallback transport for addresses
// without a live WebSocket session.
type HTTPBus struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewHTTPBus(endpoint, key string) *HTTPBus {
	return &HTTPBus{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (h *HTTPBus) Emit(ctx context.Context, address, event string, payload any, correlationID string) error {
	if address == "" {
		// unknown address: at-least-once delivery permits a silent drop.
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"to": address,
		"message": envelope{Event: event, CorrelationID: correlationID, Payload: payload},
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Key != "" {
		req.Header.Set("Authorization", "Bearer "+h.Key)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("push provider status %d", resp.StatusCode)
	}
	return nil
}

// FanoutBus tries a live WebSocket session first and falls back to an
// HTTP push provider when the driver has none registered.
type FanoutBus struct {
	WS       *WSRegistry
	Fallback Bus
}

func NewFanoutBus(ws *WSRegistry, fallback Bus) *FanoutBus {
	return &FanoutBus{WS: ws, Fallback: fallback}
}

func (f *FanoutBus) Emit(ctx context.Context, address, event string, payload any, correlationID string) error {
	if f.WS != nil {
		if err := f.WS.Emit(ctx, address, event, payload, correlationID); err == nil {
			return nil
		}
	}
	if f.Fallback != nil {
		return f.Fallback.Emit(ctx, address, event, payload, correlationID)
	}
	return nil
}
