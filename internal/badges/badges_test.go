package badges_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/badges"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

func testNotification() badges.Notification {
	var id streak.Identity
	id[0] = 1
	rec := streak.Record{Owner: id, StreakCount: 7, CreatedTS: 0, LastInteractionTS: 600_000, MilestonesClaimed: 1}
	ev := streak.Event{Kind: streak.EventMilestoneReached, Label: "Civic Starter", BadgeID: "civic-starter", RewardPoints: 100, Threshold: 7}
	return badges.NewNotification(rec, ev)
}

func TestNotificationID_stable(t *testing.T) {
	n := testNotification()
	if n.ID != badges.NotificationID(n.Owner, "civic-starter") {
		t.Error("notification id is not derived from owner and badge")
	}
	if n.ID == badges.NotificationID(n.Owner, "consistent-citizen") {
		t.Error("different badges share a notification id")
	}
	if n.ID.Version() != 5 {
		t.Errorf("expected a v5 uuid, got version %d", n.ID.Version())
	}
	if !n.IssuedAt.Equal(time.Unix(600_000, 0)) {
		t.Errorf("IssuedAt = %v", n.IssuedAt)
	}
}

func TestWebhookIssuer_deliversSignedPayload(t *testing.T) {
	const secret = "s3cret"
	var (
		mu       sync.Mutex
		body     []byte
		sig      string
		delivery string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(badges.HeaderSignature)
		delivery = r.Header.Get(badges.HeaderDelivery)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	var ok atomic.Int32
	w := badges.NewWebhookIssuer(srv.URL, secret, zap.NewNop())
	w.SetMetricsRecorder(func(success bool) {
		if success {
			ok.Add(1)
		}
	})

	n := testNotification()
	if err := w.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	w.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !badges.VerifySignature(body, secret, sig) {
		t.Errorf("signature %q does not verify", sig)
	}
	if delivery != n.ID.String() {
		t.Errorf("delivery header = %q, want %q", delivery, n.ID)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got["badge_id"] != "civic-starter" || got["owner"] != n.Owner.String() {
		t.Errorf("unexpected payload %s", body)
	}
	if ok.Load() != 1 {
		t.Errorf("expected one successful delivery metric, got %d", ok.Load())
	}
}

func TestWebhookIssuer_retriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var failures atomic.Int32
	w := badges.NewWebhookIssuer(srv.URL, "k", zap.NewNop())
	w.SetRetryDelays([]time.Duration{time.Millisecond, time.Millisecond})
	w.SetMetricsRecorder(func(success bool) {
		if !success {
			failures.Add(1)
		}
	})

	if err := w.Notify(context.Background(), testNotification()); err != nil {
		t.Fatal(err)
	}
	w.Wait()

	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if failures.Load() != 2 {
		t.Errorf("expected 2 failed attempts, got %d", failures.Load())
	}
}

func TestWebhookIssuer_survivesCancelledRequestContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	w := badges.NewWebhookIssuer(srv.URL, "k", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Notify(ctx, testNotification()); err != nil {
		t.Fatal(err)
	}
	cancel()
	w.Wait()
	if calls.Load() != 1 {
		t.Errorf("expected delivery after caller cancelled, got %d calls", calls.Load())
	}
}

type recordingIssuer struct {
	got []badges.Notification
	err error
}

func (r *recordingIssuer) Notify(_ context.Context, n badges.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestMultiIssuer(t *testing.T) {
	a := &recordingIssuer{}
	b := &recordingIssuer{err: errors.New("down")}
	c := &recordingIssuer{}
	m := badges.MultiIssuer{a, b, c, badges.NewLogIssuer(zap.NewNop())}

	err := m.Notify(context.Background(), testNotification())
	if err == nil || err.Error() != "down" {
		t.Errorf("expected joined error from b, got %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 || len(c.got) != 1 {
		t.Error("every issuer must be notified even when one fails")
	}
}
