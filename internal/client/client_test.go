package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xtxerr/somnia/config"
	"github.com/xtxerr/somnia/internal/errors"
)

func TestSecretHeaderSent(t *testing.T) {
	var gotSecret string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(config.DefaultSecretHeader)
		w.Write([]byte(`{"id":"4a1b7d06-5b1e-4e5f-9c3d-2f8a9b0c1d2e"}`))
	}))
	defer ts.Close()

	c := New(ts.URL, "hunter2")
	id, err := c.IngestReading(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("IngestReading: %v", err)
	}
	if gotSecret != "hunter2" {
		t.Fatalf("secret header = %q", gotSecret)
	}
	if id != "4a1b7d06-5b1e-4e5f-9c3d-2f8a9b0c1d2e" {
		t.Fatalf("id = %q", id)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"shared secret mismatch"}`))
	}))
	defer ts.Close()

	c := New(ts.URL, "")
	_, err := c.Stats(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "shared secret mismatch" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestWindowParamsEncoding(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := New(ts.URL, "")
	_, err := c.Buckets(context.Background(), "bedroom-pi",
		WindowParams{Day: "2026-03-10"}, 60, "temp_c", "p50,p99")
	if err != nil {
		t.Fatalf("Buckets: %v", err)
	}
	want := "bucket=60&day=2026-03-10&metrics=temp_c&percentiles=p50%2Cp99"
	if gotQuery != want {
		t.Fatalf("query = %q, want %q", gotQuery, want)
	}
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	if err := New(ts.URL, "").Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
