package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA1 = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"

func newServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("/doc.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1.20.1"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadFileVerifiesAndCaches(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	client := NewSecureHTTPClient(5 * time.Second)
	dest := filepath.Join(t.TempDir(), "a", "hello.txt")

	require.NoError(t, DownloadFile(context.Background(), client, srv.URL+"/hello", dest, helloSHA1))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// second call is served from disk
	require.NoError(t, DownloadFile(context.Background(), client, srv.URL+"/hello", dest, helloSHA1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDownloadFileChecksumMismatch(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	dest := filepath.Join(t.TempDir(), "hello.txt")

	err := DownloadFile(context.Background(), srv.Client(), srv.URL+"/hello", dest, "0000")
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "dest must not exist after a mismatch")
}

func TestDownloadFileBadStatus(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)

	err := DownloadFile(context.Background(), srv.Client(), srv.URL+"/missing", filepath.Join(t.TempDir(), "x"), "")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestGetJSON(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)

	var doc struct {
		ID string `json:"id"`
	}
	require.NoError(t, GetJSON(context.Background(), srv.Client(), srv.URL+"/doc.json", &doc))
	assert.Equal(t, "1.20.1", doc.ID)
}
