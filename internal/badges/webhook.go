package badges

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Delivery headers.
const (
	HeaderSignature = "X-Civic-Signature"
	HeaderDelivery  = "X-Civic-Delivery"
)

// MetricsRecorder is an optional callback for delivery outcomes.
type MetricsRecorder func(success bool)

// WebhookIssuer POSTs each notification as signed JSON to a fixed URL.
// Notify returns once the payload is encoded; delivery and its retries run
// in the background.
type WebhookIssuer struct {
	url        string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewWebhookIssuer creates a WebhookIssuer. Requests are signed with
// HMAC-SHA256 over the body using secret.
func NewWebhookIssuer(url, secret string, logger *zap.Logger) *WebhookIssuer {
	return &WebhookIssuer{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Wait before attempts 2 and 3.
		delays: []time.Duration{1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (w *WebhookIssuer) SetMetricsRecorder(fn MetricsRecorder) {
	w.onMetrics = fn
}

// SetRetryDelays replaces the waits between attempts. len(delays)+1 attempts
// are made in total.
func (w *WebhookIssuer) SetRetryDelays(delays []time.Duration) {
	w.delays = delays
}

// Notify implements Issuer.
func (w *WebhookIssuer) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deliver(context.WithoutCancel(ctx), n, body)
	}()
	return nil
}

// Wait blocks until every in-flight delivery has finished.
func (w *WebhookIssuer) Wait() { w.wg.Wait() }

func (w *WebhookIssuer) deliver(ctx context.Context, n Notification, body []byte) {
	signature := signPayload(body, w.secret)
	attempts := len(w.delays) + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.delays[attempt-2])
		}

		status, err := w.doDelivery(ctx, n.ID.String(), body, signature)
		success := err == nil
		if w.onMetrics != nil {
			w.onMetrics(success)
		}
		if success {
			w.logger.Debug("badge webhook delivered",
				zap.String("id", n.ID.String()),
				zap.Int("attempt", attempt),
			)
			return
		}

		w.logger.Warn("badge webhook delivery failed",
			zap.String("url", w.url),
			zap.String("id", n.ID.String()),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	w.logger.Error("badge webhook dropped after retries",
		zap.String("id", n.ID.String()),
		zap.String("owner", n.Owner.String()),
		zap.String("badge_id", n.BadgeID),
	)
}

func (w *WebhookIssuer) doDelivery(ctx context.Context, id string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderDelivery, id)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// signPayload computes the "sha256=<hex>" HMAC of body.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC of body under secret.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(signPayload(body, secret)), []byte(signature))
}
