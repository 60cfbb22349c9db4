package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTP posts each flush as JSON to a fixed endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an HTTP sink. A non-positive timeout defaults to 10s.
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Send posts f. A flush without an ID gets a fresh uuid.
func (h *HTTP) Send(ctx context.Context, f Flush) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	jsonData, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal flush: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send flush: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink responded with status %d", resp.StatusCode)
	}
	return nil
}
