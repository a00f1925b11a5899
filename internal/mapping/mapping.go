// Package mapping accumulates output-path to work-path pairs across a run
// and copies them into the output tree in one pass.
package mapping

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// Mapping maps a destination under the output root to its source under the
// work root. Each destination appears once; the last Set for it wins.
type Mapping struct {
	entries map[string]string
}

func New() *Mapping {
	return &Mapping{entries: make(map[string]string)}
}

// Set records that dest must equal src. Replacing an entry that pointed at a
// different source is logged, since the earlier source will not be copied.
func (m *Mapping) Set(dest, src string) {
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	if prev, ok := m.entries[dest]; ok && prev != src {
		logger.Logger().Warnf("Output path %s was mapped from %s, now from %s", dest, prev, src)
	}
	m.entries[dest] = src
}

// Extend folds every entry of other into m in destination order.
func (m *Mapping) Extend(other *Mapping) {
	if other == nil {
		return
	}
	for _, dest := range other.Destinations() {
		m.Set(dest, other.entries[dest])
	}
}

// Source returns the source recorded for dest.
func (m *Mapping) Source(dest string) (string, bool) {
	src, ok := m.entries[dest]
	return src, ok
}

func (m *Mapping) Len() int {
	return len(m.entries)
}

// Destinations returns all destinations, sorted.
func (m *Mapping) Destinations() []string {
	out := make([]string, 0, len(m.entries))
	for dest := range m.entries {
		out = append(out, dest)
	}
	sort.Strings(out)
	return out
}

// FromWorkPaths maps each path under workDir to the same relative path under outputDir.
func FromWorkPaths(outputDir, workDir string, workPaths []string) (*Mapping, error) {
	m := New()
	for _, p := range workPaths {
		rel, err := paths.RelativeTo(p, workDir)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", p, err)
		}
		m.Set(filepath.Join(outputDir, rel), p)
	}
	return m, nil
}
