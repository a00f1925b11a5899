package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// StringListReport collects lines (fetched URLs, copied paths) from concurrent
// workers and writes them out once a run is over.
type StringListReport struct {
	Title string

	mu    sync.Mutex
	items []string
}

// NewStringListReport creates an empty report.
func NewStringListReport(title string) *StringListReport {
	return &StringListReport{Title: title}
}

// Add records one line. A nil report discards it.
func (r *StringListReport) Add(item string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.items = append(r.items, item)
	r.mu.Unlock()
}

// Items returns a sorted copy of the recorded lines.
func (r *StringListReport) Items() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.items...)
	sort.Strings(out)
	return out
}

// WriteToFile writes the report to dir as <title>.txt, one item per line,
// replacing any previous report with the same title.
func (r *StringListReport) WriteToFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	// Replace spaces and special characters with underscores
	title := r.Title
	if title == "" {
		title = "untitled"
	}
	safeTitle := ""
	for _, c := range title {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' {
			safeTitle += string(c)
		} else {
			safeTitle += "_"
		}
	}

	reportPath := filepath.Join(dir, safeTitle+".txt")
	f, err := os.Create(reportPath)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	for _, item := range r.Items() {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing to file: %w", err)
		}
	}
	return reportPath, nil
}
