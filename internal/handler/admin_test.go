package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/handler"
	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/ledger"
	"github.com/jmerrifield20/civicstreak/internal/recordstore"
	"github.com/jmerrifield20/civicstreak/internal/snapshot"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

const adminSecret = "correct-horse-battery-staple"

type stubSnapshotter struct{ calls int }

func (s *stubSnapshotter) Export(context.Context) (*snapshot.Manifest, error) {
	s.calls++
	return &snapshot.Manifest{Namespace: streak.DefaultNamespace, DataKey: "snapshots/x.bin", Records: 2, CreatedAt: time.Unix(t0, 0).UTC()}, nil
}

func setupAdminRouter(t *testing.T, hash string, snaps handler.Snapshotter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := recordstore.NewMemoryStore(streak.DefaultNamespace)
	_ = store.Create(context.Background(), owner(1), streak.Initialize(owner(1), t0))
	r := gin.New()
	handler.NewAdminHandler(hash, snaps, store, zap.NewNop()).Register(r.Group("/api/v1"))
	return r
}

func adminRequest(r *gin.Engine, method, path, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if secret != "" {
		req.Header.Set(identity.HeaderAdminSecret, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdmin_disabledWithoutHash(t *testing.T) {
	r := setupAdminRouter(t, "", &stubSnapshotter{})
	w := adminRequest(r, http.MethodPost, "/api/v1/admin/snapshots", adminSecret)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestAdmin_snapshot(t *testing.T) {
	hash, err := identity.HashAdminSecret(adminSecret)
	if err != nil {
		t.Fatal(err)
	}
	snaps := &stubSnapshotter{}
	r := setupAdminRouter(t, hash, snaps)

	w := adminRequest(r, http.MethodPost, "/api/v1/admin/snapshots", "wrong-secret-value")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = adminRequest(r, http.MethodPost, "/api/v1/admin/snapshots", adminSecret)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if snaps.calls != 1 {
		t.Errorf("expected one export, got %d", snaps.calls)
	}
	if decode(t, w)["data_key"] != "snapshots/x.bin" {
		t.Errorf("unexpected manifest %s", w.Body.String())
	}

	w = adminRequest(r, http.MethodGet, "/api/v1/admin/stats", adminSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["records"].(float64) != 1 {
		t.Errorf("unexpected stats %s", w.Body.String())
	}
}

func TestAdmin_snapshotNotConfigured(t *testing.T) {
	hash, err := identity.HashAdminSecret(adminSecret)
	if err != nil {
		t.Fatal(err)
	}
	r := setupAdminRouter(t, hash, nil)
	w := adminRequest(r, http.MethodPost, "/api/v1/admin/snapshots", adminSecret)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", w.Code)
	}
	if decode(t, w)["reason"] != handler.ReasonNotConfigured {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestNewRouter_healthAndReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ready error
	r := handler.NewRouter(ctx, handler.RouterOptions{
		Ready: func(context.Context) error { return ready },
	}, zap.NewNop())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
	if w.Header().Get(handler.HeaderRequestID) == "" {
		t.Error("expected a request id")
	}

	ready = errors.New("store down")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", w.Code)
	}
}

func TestRequestID_keepsValidInbound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	const id = "0b9c7a43-50d4-4c53-9d8f-7c8f4f0a2b11"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(handler.HeaderRequestID, id)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(handler.HeaderRequestID); got != id {
		t.Errorf("expected %s, got %s", id, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(handler.HeaderRequestID, "<script>")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(handler.HeaderRequestID); got == "<script>" || got == "" {
		t.Errorf("expected a fresh id, got %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("first request: expected 204, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
}

func TestOwnerRateLimiter_keyedByOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := recordstore.NewMemoryStore(streak.DefaultNamespace)
	svc := ledger.NewService(store, streak.DefaultMilestoneTable(), ledger.NewFixedClock(t0), streak.DefaultNamespace, zap.NewNop())
	h := handler.NewStreakHandler(svc, identity.NewAuthenticator(nil), zap.NewNop())
	h.SetOwnerLimiter(handler.OwnerRateLimiter(ctx, 1, 1))
	r := gin.New()
	h.Register(r.Group("/api/v1"))

	post := func(path, remoteAddr string, as streak.Identity) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = remoteAddr
		req.Header.Set(identity.HeaderDevOwner, as.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	alice, bob := owner(1), owner(2)
	if w := post("/api/v1/streaks", "10.0.0.1:1000", alice); w.Code != http.StatusCreated {
		t.Fatalf("alice init: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	// A different address does not give alice a fresh bucket.
	w := post("/api/v1/streaks/engagements", "10.0.0.2:1000", alice)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("alice engage: expected 429, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["reason"] != handler.ReasonRateLimited {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	// Same address, other owner: not limited.
	if w := post("/api/v1/streaks", "10.0.0.1:1000", bob); w.Code != http.StatusCreated {
		t.Fatalf("bob init: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	// Reads are not owner limited.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/streaks/"+alice.String(), nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("alice read: expected 200, got %d", rw.Code)
	}
}
