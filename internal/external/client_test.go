package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestHTTPClientGetScopesTeacher(t *testing.T) {
	var gotTeacher, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTeacher = r.Header.Get("X-Teacher-ID")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"classes":[{"class_id":"class-1"}]}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, time.Second, nil)
	var out struct {
		Classes []struct {
			ClassID string `json:"class_id"`
		} `json:"classes"`
	}
	err := c.Get(context.Background(), "teacher-9", "/classes", url.Values{"term": {"2026-fall"}}, &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotTeacher != "teacher-9" {
		t.Errorf("X-Teacher-ID = %q", gotTeacher)
	}
	if gotQuery != "term=2026-fall" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(out.Classes) != 1 || out.Classes[0].ClassID != "class-1" {
		t.Errorf("decoded %+v", out)
	}
}

func TestHTTPClientClientErrorDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such class", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, time.Second, nil)
	for i := 0; i < 10; i++ {
		if err := c.Get(context.Background(), "t", "/classes", nil, nil); err == nil {
			t.Fatal("expected error for 404")
		}
	}
	// Breaker stays closed for 4xx; the next call still reaches upstream.
	if err := c.Get(context.Background(), "t", "/classes", nil, nil); errors.Is(err, ErrCircuitOpen) {
		t.Error("client errors must not open the circuit")
	}
}

func TestHTTPClientServerErrorsOpenBreaker(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, time.Second, nil)
	for i := 0; i < 5; i++ {
		c.Get(context.Background(), "t", "/classes", nil, nil)
	}
	err := c.Get(context.Background(), "t", "/classes", nil, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen after 5 failures, got %v", err)
	}
	if calls != 5 {
		t.Errorf("upstream saw %d calls, want 5", calls)
	}
}

func TestMockClientServesCannedData(t *testing.T) {
	m := NewMockClient()
	var out struct {
		Classes []struct {
			ClassID string `json:"class_id"`
		} `json:"classes"`
	}
	if err := m.Get(context.Background(), "t", "/classes", nil, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(out.Classes) != 2 {
		t.Errorf("got %d classes, want 2", len(out.Classes))
	}
	if err := m.Get(context.Background(), "t", "/nonexistent", nil, nil); err == nil {
		t.Error("unknown path should error")
	}
}
