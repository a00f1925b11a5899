package pkgfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/hse-launcher/instance-builder/internal/utils/network"
)

func TestFetchPackages(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	artifacts := []Artifact{
		{URL: srv.URL + "/a.jar", Dest: filepath.Join(dir, "a.jar"), SHA1: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		{URL: srv.URL + "/b.jar", Dest: filepath.Join(dir, "sub", "b.jar")},
		{URL: srv.URL + "/a.jar", Dest: filepath.Join(dir, "a.jar")},
	}

	if err := FetchPackages(context.Background(), srv.Client(), artifacts, nil, 2); err != nil {
		t.Fatalf("FetchPackages: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
	for _, p := range []string{"a.jar", filepath.Join("sub", "b.jar")} {
		data, err := os.ReadFile(filepath.Join(dir, p))
		if err != nil || string(data) != "hello" {
			t.Errorf("%s: got %q, %v", p, data, err)
		}
	}

	// already present with the right hash: no new request
	if err := FetchPackages(context.Background(), srv.Client(), artifacts[:1], nil, 1); err != nil {
		t.Fatalf("FetchPackages: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected cached file to be reused, got %d requests", got)
	}
}

func TestFetchPackagesFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	err := FetchPackages(context.Background(), srv.Client(),
		[]Artifact{{URL: srv.URL + "/missing", Dest: filepath.Join(t.TempDir(), "x")}}, nil, 1)
	var statusErr *network.StatusError
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 status error, got %v", err)
	}
}
