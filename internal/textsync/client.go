// Package textsync forwards shared-content checkpoints to the collaborative
// document service. Merge resolution lives entirely in that service; this
// client only delivers the latest content snapshot on its persistence path.
package textsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client forwards content over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a textsync client for the given base URL.
func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Forward delivers one content snapshot for the session's document.
func (c *Client) Forward(ctx context.Context, sessionID, content string) error {
	body, _ := json.Marshal(map[string]string{
		"session_id": sessionID,
		"content":    content,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/documents/"+sessionID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("textsync: forward failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		err := fmt.Errorf("textsync: status %d", res.StatusCode)
		c.log.Warn("textsync: forward rejected", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}
