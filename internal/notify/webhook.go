package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when the
// webhook has a secret.
const SignatureHeader = "X-EpochSync-Signature"

// webhookPayload is the JSON body POSTed to the webhook URL.
type webhookPayload struct {
	Key     string `json:"key"`
	EndTime int64  `json:"end_time"`
	FiredAt int64  `json:"fired_at"` // UTC milliseconds
}

// Webhook POSTs the alarm to URL. A non-2xx response is retried after each
// entry of RetryDelays; the last error is returned once they run out.
type Webhook struct {
	URL         string
	Secret      string
	RetryDelays []time.Duration
	Client      *http.Client
}

func (w *Webhook) Notify(ctx context.Context, a Alarm) error {
	body, err := json.Marshal(webhookPayload{
		Key:     a.Key,
		EndTime: a.EndTime,
		FiredAt: a.FiredAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	err = w.post(ctx, client, body)
	for i, delay := range w.RetryDelays {
		if err == nil {
			return nil
		}
		slog.Debug("webhook delivery failed, retrying", "url", w.URL, "attempt", i+1, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		err = w.post(ctx, client, body)
	}
	return err
}

func (w *Webhook) post(ctx context.Context, client *http.Client, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Sign the request body when a secret is provided.
	if w.Secret != "" {
		mac := hmac.New(sha256.New, []byte(w.Secret))
		mac.Write(body)
		req.Header.Set(SignatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: POST to %s: %w", w.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
