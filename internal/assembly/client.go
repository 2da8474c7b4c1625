// Package assembly talks to the recording-assembly service, which stitches
// the audio chunks recorded during a session into a single file. The
// coordinator only fires the trigger at session end; it never waits for
// assembly to complete.
package assembly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client triggers assembly over HTTP. Call Ping before use to verify the
// service is reachable; a service that is down at startup disables recording
// assembly rather than failing the coordinator.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates an assembly client for the given base URL.
func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// Ping checks the assembly service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("assembly health: status %d", res.StatusCode)
	}
	return nil
}

// Trigger asks the assembly service to start stitching the session's
// recorded chunks. Fire-and-forget from the coordinator's point of view.
func (c *Client) Trigger(ctx context.Context, sessionID string) error {
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/assemblies", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("assembly: trigger failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		err := fmt.Errorf("assembly: status %d", res.StatusCode)
		c.log.Warn("assembly: trigger rejected", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}
