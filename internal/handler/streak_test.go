package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/handler"
	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/journal"
	"github.com/jmerrifield20/civicstreak/internal/ledger"
	"github.com/jmerrifield20/civicstreak/internal/recordstore"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

const t0 = int64(1_700_000_000)

func owner(b byte) streak.Identity {
	var id streak.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

type fixture struct {
	router  *gin.Engine
	clock   *ledger.FixedClock
	journal *journal.MemoryJournal
}

func setupStreakRouter(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := ledger.NewFixedClock(t0)
	j := journal.NewMemory()
	store := recordstore.NewMemoryStore(streak.DefaultNamespace)
	svc := ledger.NewService(store, streak.DefaultMilestoneTable(), clock, streak.DefaultNamespace, zap.NewNop())
	svc.SetJournal(j)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewStreakHandler(svc, identity.NewAuthenticator(nil), zap.NewNop()).Register(v1)
	handler.NewJournalHandler(j, zap.NewNop()).Register(v1)
	return &fixture{router: r, clock: clock, journal: j}
}

func (f *fixture) do(method, path string, as *streak.Identity, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set(identity.HeaderDevOwner, as.String())
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestInitialize_201_then_409(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)

	w := f.do(http.MethodPost, "/api/v1/streaks", &alice, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	rec := resp["record"].(map[string]any)
	if rec["streak_count"].(float64) != 1 {
		t.Errorf("expected streak_count 1, got %v", rec["streak_count"])
	}
	if rec["owner"] != alice.String() {
		t.Errorf("expected owner %s, got %v", alice, rec["owner"])
	}
	if resp["address"] != streak.DeriveAddress(streak.DefaultNamespace, alice).String() {
		t.Errorf("unexpected address %v", resp["address"])
	}

	w = f.do(http.MethodPost, "/api/v1/streaks", &alice, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["reason"] != streak.ReasonAlreadyExists {
		t.Errorf("unexpected reason: %s", w.Body.String())
	}
}

func TestInitialize_401_unauthenticated(t *testing.T) {
	f := setupStreakRouter(t)
	w := f.do(http.MethodPost, "/api/v1/streaks", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestInitialize_403_otherOwner(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)

	w := f.do(http.MethodPost, "/api/v1/streaks", &alice, map[string]string{"owner": owner(2).String()})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["reason"] != handler.ReasonOwnerMismatch {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestInitialize_400_badOwner(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)

	w := f.do(http.MethodPost, "/api/v1/streaks", &alice, map[string]string{"owner": "not-base58-0OIl"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordEngagement_404_withoutRecord(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)

	w := f.do(http.MethodPost, "/api/v1/streaks/engagements", &alice, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordEngagement_429_tooSoon(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)
	f.do(http.MethodPost, "/api/v1/streaks", &alice, nil)

	f.clock.Advance(20 * time.Hour)
	w := f.do(http.MethodPost, "/api/v1/streaks/engagements", &alice, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Retry-After"); got != "14400" {
		t.Errorf("expected Retry-After 14400, got %q", got)
	}
	resp := decode(t, w)
	if resp["reason"] != streak.ReasonTooSoon {
		t.Errorf("unexpected reason %v", resp["reason"])
	}
	if resp["retry_after_seconds"].(float64) != 14400 {
		t.Errorf("unexpected retry_after_seconds %v", resp["retry_after_seconds"])
	}
}

func TestRecordEngagement_200_continues(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)
	f.do(http.MethodPost, "/api/v1/streaks", &alice, nil)

	f.clock.Advance(25 * time.Hour)
	w := f.do(http.MethodPost, "/api/v1/streaks/engagements", &alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	rec := resp["record"].(map[string]any)
	if rec["streak_count"].(float64) != 2 {
		t.Errorf("expected streak_count 2, got %v", rec["streak_count"])
	}
	events := resp["events"].([]any)
	if len(events) != 1 || events[0].(map[string]any)["kind"] != string(streak.EventStreakContinued) {
		t.Errorf("expected one streak_continued event, got %v", events)
	}
	now := t0 + 25*3600
	if resp["next_eligible_at"].(float64) != float64(now+streak.MinInterval) {
		t.Errorf("unexpected next_eligible_at %v", resp["next_eligible_at"])
	}
	if resp["expires_at"].(float64) != float64(now+streak.MaxInterval) {
		t.Errorf("unexpected expires_at %v", resp["expires_at"])
	}
}

func TestGetRecord(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)

	w := f.do(http.MethodGet, "/api/v1/streaks/"+alice.String(), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	f.do(http.MethodPost, "/api/v1/streaks", &alice, nil)
	for i := 0; i < 6; i++ {
		f.clock.Advance(24 * time.Hour)
		if w := f.do(http.MethodPost, "/api/v1/streaks/engagements", &alice, nil); w.Code != http.StatusOK {
			t.Fatalf("engagement %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	w = f.do(http.MethodGet, "/api/v1/streaks/"+alice.String(), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["record"].(map[string]any)["streak_count"].(float64) != 7 {
		t.Errorf("expected streak 7, got %v", resp["record"])
	}
	claimed := resp["milestones"].([]any)
	if len(claimed) != 1 || claimed[0].(map[string]any)["badge_id"] != "civic-starter" {
		t.Errorf("expected civic-starter claimed, got %v", claimed)
	}
	next := resp["next_milestone"].(map[string]any)
	if next["threshold"].(float64) != 14 {
		t.Errorf("expected next threshold 14, got %v", next)
	}
}

func TestGetRecord_400_badOwner(t *testing.T) {
	f := setupStreakRouter(t)
	w := f.do(http.MethodGet, "/api/v1/streaks/xyz", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAddress_withoutRecord(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(9)

	w := f.do(http.MethodGet, "/api/v1/streaks/"+alice.String()+"/address", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["address"] != streak.DeriveAddress(streak.DefaultNamespace, alice).String() {
		t.Errorf("unexpected address %v", resp["address"])
	}
	if resp["namespace"] != string(streak.DefaultNamespace) {
		t.Errorf("unexpected namespace %v", resp["namespace"])
	}
}

func TestMilestones(t *testing.T) {
	f := setupStreakRouter(t)
	w := f.do(http.MethodGet, "/api/v1/milestones", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if n := len(resp["milestones"].([]any)); n != 6 {
		t.Errorf("expected 6 milestones, got %d", n)
	}
	if resp["min_interval"].(float64) != float64(streak.MinInterval) {
		t.Errorf("unexpected min_interval %v", resp["min_interval"])
	}
}

func TestJournal_recordsTransitions(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)
	f.do(http.MethodPost, "/api/v1/streaks", &alice, nil)
	f.clock.Advance(24 * time.Hour)
	f.do(http.MethodPost, "/api/v1/streaks/engagements", &alice, nil)

	w := f.do(http.MethodGet, "/api/v1/journal", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// genesis, initialize, streak_continued
	if n := decode(t, w)["entries"].(float64); n != 3 {
		t.Errorf("expected 3 entries, got %v", n)
	}

	w = f.do(http.MethodGet, "/api/v1/journal/entries?offset=1&limit=1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	entries := decode(t, w)["entries"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["action"] != string(journal.ActionInitialize) {
		t.Errorf("unexpected page %v", entries)
	}

	w = f.do(http.MethodGet, "/api/v1/journal/verify", nil, nil)
	if decode(t, w)["valid"] != true {
		t.Errorf("expected valid chain, got %s", w.Body.String())
	}
}

func TestJournal_badPaging(t *testing.T) {
	f := setupStreakRouter(t)
	for _, q := range []string{"offset=-1", "limit=0", "limit=abc"} {
		w := f.do(http.MethodGet, "/api/v1/journal/entries?"+q, nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
	w := f.do(http.MethodGet, "/api/v1/journal/entries/999", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if decode(t, w)["reason"] != streak.ReasonNotFound {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	w = f.do(http.MethodGet, "/api/v1/journal/entries/abc", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if decode(t, w)["reason"] != handler.ReasonInvalidRequest {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

// failingJournal reports every read as a backend fault.
type failingJournal struct{ journal.Journal }

func (failingJournal) Len(context.Context) (int, error) { return 0, errors.New("journal offline") }

func (failingJournal) List(context.Context, int, int) ([]*journal.Entry, error) {
	return nil, errors.New("journal offline")
}

func TestJournal_faultsCarryReason(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler.NewJournalHandler(failingJournal{journal.NewMemory()}, zap.NewNop()).Register(r.Group("/api/v1"))

	for _, path := range []string{"/api/v1/journal", "/api/v1/journal/entries"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, w.Code)
		}
		if decode(t, w)["reason"] != streak.ReasonInternal {
			t.Errorf("%s: unexpected body: %s", path, w.Body.String())
		}
	}
}

func TestInitialize_chunkedBody(t *testing.T) {
	f := setupStreakRouter(t)
	alice := owner(1)

	send := func(body string) *httptest.ResponseRecorder {
		// A reader of unknown length makes the request chunked (ContentLength -1).
		req := httptest.NewRequest(http.MethodPost, "/api/v1/streaks", io.MultiReader(strings.NewReader(body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(identity.HeaderDevOwner, alice.String())
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w
	}

	w := send(`{"owner":"` + owner(2).String() + `"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["reason"] != handler.ReasonOwnerMismatch {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	w = send(`{"owner":"` + alice.String() + `"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordEngagement_503_storageUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := recordstore.NewMemoryStore(streak.DefaultNamespace)
	svc := ledger.NewService(store, streak.DefaultMilestoneTable(), ledger.NewFixedClock(t0), streak.DefaultNamespace, zap.NewNop())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithCancel(c.Request.Context())
		cancel()
		c.Request = c.Request.WithContext(ctx)
	})
	handler.NewStreakHandler(svc, identity.NewAuthenticator(nil), zap.NewNop()).Register(r.Group("/api/v1"))

	alice := owner(1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/streaks/engagements", nil)
	req.Header.Set(identity.HeaderDevOwner, alice.String())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["reason"] != streak.ReasonStorageUnavailable {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}
