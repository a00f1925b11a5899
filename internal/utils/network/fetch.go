package network

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hse-launcher/instance-builder/internal/utils/file"
)

// ErrChecksumMismatch is returned when downloaded content does not match the expected SHA-1.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// StatusError is returned for non-200 responses.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: bad status: %s", e.URL, e.Status)
}

func get(ctx context.Context, client *http.Client, rawurl string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawurl, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{URL: rawurl, Status: resp.Status, Code: resp.StatusCode}
	}
	return resp, nil
}

// GetBytes fetches rawurl and returns the whole body.
func GetBytes(ctx context.Context, client *http.Client, rawurl string) ([]byte, error) {
	resp, err := get(ctx, client, rawurl)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawurl, err)
	}
	return data, nil
}

// GetJSON fetches rawurl and decodes the JSON body into v.
func GetJSON(ctx context.Context, client *http.Client, rawurl string, v interface{}) error {
	resp, err := get(ctx, client, rawurl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", rawurl, err)
	}
	return nil
}

// DownloadFile fetches rawurl into dest. When sha1Hex is set, an existing dest
// with that hash is kept as is, and downloaded content must match it.
// Content lands in a temporary sibling first, so dest is never left half-written.
func DownloadFile(ctx context.Context, client *http.Client, rawurl, dest, sha1Hex string) error {
	if sha1Hex != "" {
		if sum, err := file.HashFile(dest); err == nil && sum == sha1Hex {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dest, err)
	}

	resp, err := get(ctx, client, rawurl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", dest, err)
	}
	defer os.Remove(tmp.Name())

	h := sha1.New()
	w := io.MultiWriter(tmp, h)
	if _, err := io.Copy(w, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("downloading %s: %w", rawurl, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}

	if sum := hex.EncodeToString(h.Sum(nil)); sha1Hex != "" && sum != sha1Hex {
		return fmt.Errorf("%s: expected sha1 %s, got %s: %w", rawurl, sha1Hex, sum, ErrChecksumMismatch)
	}
	return os.Rename(tmp.Name(), dest)
}
