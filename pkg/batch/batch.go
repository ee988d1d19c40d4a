// Package batch persists ordered record batches.
//
// A batch directory holds files named by batch number (0.json, 1.json, ...)
// each containing one {"records":[...]} object, optionally zstd-compressed
// (0.json.zst). Batches are always listed and read in numeric order, never
// lexical order. Writes are atomic: a reader sees either the previous file
// or the complete new one.
package batch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"

	jsoniter "github.com/json-iterator/go"

	"github.com/daviddao/skylog/pkg/model"
)

const (
	ext    = ".json"
	zstExt = ".zst"
)

// Store reads and writes the batches of one directory.
type Store struct {
	dir      string
	compress bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open returns a store over dir. compress selects the format of written
// batches; both formats are always readable.
func Open(dir string, compress bool) (*Store, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{dir: dir, compress: compress, encoder: encoder, decoder: decoder}, nil
}

// Close releases the codecs. Files are unaffected.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// Dir returns the directory of the store.
func (s *Store) Dir() string { return s.dir }

// Reset removes the directory and everything in it, then recreates it
// empty. Every run starts from scratch.
func (s *Store) Reset() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("reset %s: %w", s.dir, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("reset %s: %w", s.dir, err)
	}
	return nil
}

// Remove deletes the directory.
func (s *Store) Remove() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove %s: %w", s.dir, err)
	}
	return nil
}

// Path returns the file a batch is written to.
func (s *Store) Path(seq int) string {
	name := strconv.Itoa(seq) + ext
	if s.compress {
		name += zstExt
	}
	return filepath.Join(s.dir, name)
}

// Write persists b as file b.Seq. Errors are fatal for the run.
func (s *Store) Write(b model.Batch) error {
	body, err := Encode(b.Records)
	if err != nil {
		return fmt.Errorf("encode batch %d: %w", b.Seq, err)
	}
	if s.compress {
		body = s.encoder.EncodeAll(body, make([]byte, 0, len(body)/4))
	}
	path := s.Path(b.Seq)
	if err := atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("write batch %d: %w", b.Seq, err)
	}
	// atomic.WriteFile creates new files 0600.
	if err := os.Chmod(path, 0o644); err != nil {
		return fmt.Errorf("write batch %d: %w", b.Seq, err)
	}
	return nil
}

// Seqs lists the batch numbers present, ascending. Files that are not
// batches are ignored.
func (s *Store) Seqs() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	seen := make(map[int]bool)
	var seqs []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseName(e.Name())
		if !ok || seen[seq] {
			continue
		}
		seen[seq] = true
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}

// Read loads batch seq in whichever format it was written. A file that
// does not parse yields an error wrapping model.ErrMalformedContainer.
func (s *Store) Read(seq int) (model.Batch, error) {
	name := strconv.Itoa(seq) + ext
	path := filepath.Join(s.dir, name)
	body, err := os.ReadFile(path)
	compressed := false
	if os.IsNotExist(err) {
		path += zstExt
		body, err = os.ReadFile(path)
		compressed = true
	}
	if err != nil {
		return model.Batch{}, fmt.Errorf("read batch %d: %w", seq, err)
	}
	if compressed {
		body, err = s.decoder.DecodeAll(body, nil)
		if err != nil {
			return model.Batch{}, model.NewAnomaly(model.ErrMalformedContainer, filepath.Base(path), "zstd", err)
		}
	}
	recs, err := Decode(body)
	if err != nil {
		return model.Batch{}, model.NewAnomaly(model.ErrMalformedContainer, filepath.Base(path), "batch", err)
	}
	return model.Batch{Seq: seq, Records: recs}, nil
}

func parseName(name string) (int, bool) {
	name = strings.TrimSuffix(name, zstExt)
	stem, ok := strings.CutSuffix(name, ext)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(stem)
	if err != nil || n < 0 || strconv.Itoa(n) != stem {
		return 0, false
	}
	return n, true
}

// Encode renders records in the batch file shape.
func Encode(recs []model.Record) ([]byte, error) {
	st := model.JSON.BorrowStream(nil)
	defer model.JSON.ReturnStream(st)
	st.WriteObjectStart()
	st.WriteObjectField("records")
	st.WriteArrayStart()
	for i := range recs {
		if i > 0 {
			st.WriteMore()
		}
		recs[i].WriteJSON(st)
	}
	st.WriteArrayEnd()
	st.WriteObjectEnd()
	if st.Error != nil {
		return nil, st.Error
	}
	return append([]byte(nil), st.Buffer()...), nil
}

// Decode parses a batch file body. Fields other than records are ignored.
// The body must be exactly one object, optionally surrounded by whitespace.
func Decode(body []byte) ([]model.Record, error) {
	it := model.JSON.BorrowIterator(body)
	defer model.JSON.ReturnIterator(it)

	if vt := it.WhatIsNext(); vt != jsoniter.ObjectValue {
		return nil, errors.New("batch is not an object")
	}
	it.Error = nil

	var recs []model.Record
	var recErr error
	complete := it.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		if key != "records" {
			it.Skip()
			return it.Error == nil
		}
		return it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			raw := it.SkipAndReturnBytes()
			if it.Error != nil {
				return false
			}
			var r model.Record
			if err := r.UnmarshalJSON(raw); err != nil {
				recErr = fmt.Errorf("record %d: %w", len(recs), err)
				return false
			}
			recs = append(recs, r)
			return true
		})
	})
	if recErr != nil {
		return nil, recErr
	}
	if it.Error != nil && it.Error != io.EOF {
		return nil, it.Error
	}
	if !complete {
		return nil, errors.New("truncated batch")
	}

	// Only whitespace may follow: the next token must hit the end of input.
	it.Error = nil
	it.WhatIsNext()
	if it.Error != io.EOF {
		return nil, errors.New("trailing data after batch")
	}
	return recs, nil
}
