package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPChecker_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/authz/check" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("userId") != "42" || q.Get("docId") != "d-1" || q.Get("action") != "write" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"allowed":true}`))
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL + "/")
	allowed, err := c.Check(context.Background(), 42, "d-1", "write")
	if err != nil {
		t.Fatalf("Check error = %v", err)
	}
	if !allowed {
		t.Fatalf("Check = false, want true")
	}
}

func TestHTTPChecker_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL)
	allowed, err := c.Check(context.Background(), 1, "d-1", "write")
	if err != nil {
		t.Fatalf("Check error = %v", err)
	}
	if allowed {
		t.Fatalf("Check = true on 403, want false")
	}
}

func TestHTTPChecker_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL)
	if _, err := c.Check(context.Background(), 1, "d-1", "write"); err == nil {
		t.Fatalf("expected error on upstream 500")
	}
}
