package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"hydroflow/internal/domain"
	"hydroflow/internal/scheduler"
)

// manualFrame never fires on its own, keeping registered boundaries
// pending so handlers can be exercised deterministically.
type manualFrame struct{}

func (manualFrame) Request(fn func()) (cancel func()) { return func() {} }

type manualIdle struct{}

func (manualIdle) Request(fn func(scheduler.IdleDeadline)) (cancel func()) { return func() {} }

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(scheduler.DefaultConfig(), scheduler.Ports{
		Frame: manualFrame{},
		Idle:  manualIdle{},
	}, nil)
	t.Cleanup(s.Dispose)
	return s
}

func registerManual(t *testing.T, s *scheduler.Scheduler, id string, p domain.Priority) {
	t.Helper()
	err := s.Register(domain.Task{
		ID:       domain.BoundaryID(id),
		Priority: p,
		Trigger:  domain.TriggerManual,
		Action:   func(ctx context.Context) error { return nil },
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewServer(newTestScheduler(t))
	rec := doRequest(t, h, "GET", "/health")
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "ok" {
		t.Fatalf("body = %q, want ok", got)
	}
}

func TestListAndGetBoundaries(t *testing.T) {
	s := newTestScheduler(t)
	registerManual(t, s, "sidebar", domain.PriorityLow)
	registerManual(t, s, "cart", domain.PriorityHigh)
	h := NewServer(s)

	rec := doRequest(t, h, "GET", "/api/boundaries")
	if rec.Code != 200 {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []boundaryResp
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}

	rec = doRequest(t, h, "GET", "/api/boundaries/cart")
	if rec.Code != 200 {
		t.Fatalf("get status = %d", rec.Code)
	}
	var one boundaryResp
	if err := json.Unmarshal(rec.Body.Bytes(), &one); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if one.ID != "cart" || one.State != string(domain.StatePending) {
		t.Fatalf("got %+v", one)
	}
}

func TestGetBoundaryNotFound(t *testing.T) {
	h := NewServer(newTestScheduler(t))
	rec := doRequest(t, h, "GET", "/api/boundaries/ghost")
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestForceHydrate(t *testing.T) {
	s := newTestScheduler(t)
	registerManual(t, s, "cart", domain.PriorityHigh)
	h := NewServer(s)

	rec := doRequest(t, h, "POST", "/api/boundaries/cart/hydrate")
	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp boundaryResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != string(domain.StateHydrated) {
		t.Fatalf("state = %s, want hydrated", resp.State)
	}

	rec = doRequest(t, h, "POST", "/api/boundaries/ghost/hydrate")
	if rec.Code != 404 {
		t.Fatalf("unknown status = %d, want 404", rec.Code)
	}
}

func TestPauseResume(t *testing.T) {
	s := newTestScheduler(t)
	h := NewServer(s)

	rec := doRequest(t, h, "POST", "/api/scheduler/pause")
	var st scheduler.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Paused {
		t.Fatal("expected paused")
	}

	rec = doRequest(t, h, "POST", "/api/scheduler/resume")
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Paused {
		t.Fatal("expected resumed")
	}
}

func TestMetrics(t *testing.T) {
	s := newTestScheduler(t)
	registerManual(t, s, "cart", domain.PriorityHigh)
	if err := s.ForceHydrate(domain.BoundaryID("cart")); err != nil {
		t.Fatalf("force hydrate: %v", err)
	}
	h := NewServer(s)

	rec := doRequest(t, h, "GET", "/api/metrics")
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var report scheduler.MetricsReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Samples != 1 {
		t.Fatalf("samples = %d, want 1", report.Samples)
	}
	if report.Counts.Hydrated != 1 {
		t.Fatalf("hydrated count = %d, want 1", report.Counts.Hydrated)
	}
}

func TestEventStream(t *testing.T) {
	s := newTestScheduler(t)
	registerManual(t, s, "cart", domain.PriorityHigh)
	srv := httptest.NewServer(NewServer(s))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the handler a moment to subscribe before producing events.
	time.Sleep(50 * time.Millisecond)
	if err := s.ForceHydrate(domain.BoundaryID("cart")); err != nil {
		t.Fatalf("force hydrate: %v", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var evt domain.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Kind == domain.EventHydrationComplete {
			if evt.Boundary != "cart" {
				t.Fatalf("boundary = %s, want cart", evt.Boundary)
			}
			return
		}
	}
}

func TestEventStreamClientClose(t *testing.T) {
	s := newTestScheduler(t)
	srv := httptest.NewServer(NewServer(s))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// A clean closing handshake needs the server to read the close
	// frame and echo it back.
	done := make(chan error, 1)
	go func() { done <- conn.Close(websocket.StatusNormalClosure, "") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close handshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close handshake did not complete")
	}
}
