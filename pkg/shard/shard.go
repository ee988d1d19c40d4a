// Package shard discovers and decodes the daily shard files of the raw log.
//
// A shard is named by its calendar day (2023-05-01.jsonl) and holds either
// newline-delimited record objects or a single JSON array of them. Either
// form may be zstd-compressed, marked by a trailing .zst.
package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/daviddao/skylog/pkg/model"
)

// DateLayout is the layout of shard file stems and of end-date settings.
const DateLayout = "2006-01-02"

var extensions = []string{".jsonl", ".ndjson", ".json"}

// Shard is one input file.
type Shard struct {
	Path       string
	Date       time.Time
	Compressed bool
}

// Name returns the base file name.
func (s Shard) Name() string { return filepath.Base(s.Path) }

// List returns the shards in dir in date order, excluding days after end.
// A zero end includes every day. Files that are not named by date are
// returned as anomalies and otherwise ignored.
func List(dir string, end time.Time) ([]Shard, []*model.Anomaly, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("list shards: %w", err)
	}
	var shards []Shard
	var skipped []*model.Anomaly
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		s, ok := parseName(e.Name())
		if !ok {
			skipped = append(skipped, model.NewAnomaly(model.ErrMalformedContainer, e.Name(),
				"file name is not <YYYY-MM-DD>.jsonl|.ndjson|.json[.zst]", nil))
			continue
		}
		if !end.IsZero() && s.Date.After(end) {
			continue
		}
		s.Path = filepath.Join(dir, e.Name())
		shards = append(shards, s)
	}
	sort.SliceStable(shards, func(i, j int) bool {
		if !shards[i].Date.Equal(shards[j].Date) {
			return shards[i].Date.Before(shards[j].Date)
		}
		return shards[i].Path < shards[j].Path
	})
	return shards, skipped, nil
}

func parseName(name string) (Shard, bool) {
	var s Shard
	if trimmed, ok := strings.CutSuffix(name, ".zst"); ok {
		s.Compressed = true
		name = trimmed
	}
	stem := ""
	for _, ext := range extensions {
		if trimmed, ok := strings.CutSuffix(name, ext); ok {
			stem = trimmed
			break
		}
	}
	if stem == "" {
		return s, false
	}
	d, err := time.Parse(DateLayout, stem)
	if err != nil {
		return s, false
	}
	s.Date = d
	return s, true
}

// ParseEndDate parses a YYYY-MM-DD end date. An empty string means no
// cutoff and yields the zero time.
func ParseEndDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("end date %q: want YYYY-MM-DD: %w", s, err)
	}
	return d, nil
}
