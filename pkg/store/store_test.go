package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/daviddao/skylog/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func beginRun(t *testing.T, s *Store, id string, at time.Time) {
	t.Helper()
	if err := s.BeginRun(id, at, `{"batch_size":2}`); err != nil {
		t.Fatalf("BeginRun(%s): %v", id, err)
	}
}

// --- Run tests ---

func TestBeginRun(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	beginRun(t, s, "r1", start)

	r, err := s.GetRun("r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != model.RunRunning {
		t.Fatalf("status = %q, want running", r.Status)
	}
	if !r.StartedAt.Equal(start) {
		t.Fatalf("started_at = %v, want %v", r.StartedAt, start)
	}
	if !r.FinishedAt.IsZero() {
		t.Fatalf("finished_at should be zero, got %v", r.FinishedAt)
	}
	if r.Config != `{"batch_size":2}` {
		t.Fatalf("config = %q", r.Config)
	}
}

func TestBeginRun_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	beginRun(t, s, "r1", time.Now())
	if err := s.BeginRun("r1", time.Now(), ""); err == nil {
		t.Fatal("expected error for duplicate run id")
	}
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	beginRun(t, s, "ok", time.Now())
	beginRun(t, s, "bad", time.Now())

	if err := s.FinishRun("ok", time.Now(), `{"records_read":3}`, nil); err != nil {
		t.Fatalf("FinishRun ok: %v", err)
	}
	if err := s.FinishRun("bad", time.Now(), "", errors.New("write batch 0: disk full")); err != nil {
		t.Fatalf("FinishRun bad: %v", err)
	}

	ok, _ := s.GetRun("ok")
	if ok.Status != model.RunOK || ok.Summary != `{"records_read":3}` || ok.FinishedAt.IsZero() {
		t.Fatalf("ok run = %+v", ok)
	}
	bad, _ := s.GetRun("bad")
	if bad.Status != model.RunFailed || bad.Error != "write batch 0: disk full" {
		t.Fatalf("bad run = %+v", bad)
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishRun("nope", time.Now(), "", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("FinishRun unknown: got %v, want ErrNotFound", err)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, err := s.LatestRun(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestRun on empty ledger: got %v, want ErrNotFound", err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		beginRun(t, s, id, base.Add(time.Duration(i)*time.Hour))
	}
	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("ListRuns = %v", runs)
	}
	latest, err := s.LatestRun()
	if err != nil || latest.ID != "c" {
		t.Fatalf("LatestRun = %v, %v", latest, err)
	}
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := newTestStore(t)
	beginRun(t, s, "r1", time.Now())
	if err := s.InsertDanglingActors("r1", []string{"did:plc:a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRun("r1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	_, actors, err := s.CountDangling("r1")
	if err != nil {
		t.Fatal(err)
	}
	if actors != 0 {
		t.Fatalf("dangling actors after delete = %d, want 0", actors)
	}
}

// --- Dangling tests ---

func TestDanglingPosts(t *testing.T) {
	s := newTestStore(t)
	beginRun(t, s, "r1", time.Now())
	posts := []model.DanglingPost{
		{URI: "at://did:plc:b/app.bsky.feed.post/3jzfcijpj2z23", Actor: "did:plc:b", TS: 90, Placed: true},
		{URI: "at://did:plc:c/app.bsky.feed.post/bad", Actor: "did:plc:c"},
		{URI: "at://did:plc:a/app.bsky.feed.post/3jzfcijpj2z22", Actor: "did:plc:a", TS: 80, Placed: true},
		{URI: "at://did:plc:a/app.bsky.feed.post/3jzfcijpj2z22", Actor: "did:plc:a", TS: 80, Placed: true},
	}
	if err := s.InsertDanglingPosts("r1", posts); err != nil {
		t.Fatalf("InsertDanglingPosts: %v", err)
	}

	got, err := s.ListDanglingPosts("r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d posts, want 3 (duplicate ignored)", len(got))
	}
	if got[0].TS != 80 || got[1].TS != 90 {
		t.Fatalf("placed posts out of order: %+v", got)
	}
	if got[2].Placed || got[2].TS != 0 {
		t.Fatalf("unplaceable post should be last with zero ts: %+v", got[2])
	}

	n, _, err := s.CountDangling("r1")
	if err != nil || n != 3 {
		t.Fatalf("CountDangling posts = %d, %v", n, err)
	}
}

func TestDanglingActors_ChunkedInsert(t *testing.T) {
	s := newTestStore(t)
	beginRun(t, s, "r1", time.Now())
	actors := make([]string, insertChunk+10)
	for i := range actors {
		actors[i] = fmt.Sprintf("did:plc:%06d", i)
	}
	if err := s.InsertDanglingActors("r1", actors); err != nil {
		t.Fatalf("InsertDanglingActors: %v", err)
	}
	_, n, err := s.CountDangling("r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(actors)) {
		t.Fatalf("count = %d, want %d", n, len(actors))
	}
	first, err := s.ListDanglingActors("r1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0] != "did:plc:000000" {
		t.Fatalf("ListDanglingActors = %v", first)
	}
}

func TestDangling_RequiresRun(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertDanglingActors("missing", []string{"did:plc:a"}); err == nil {
		t.Fatal("expected foreign key error for unknown run")
	}
}

// --- Anomaly tests ---

func TestAnomalies(t *testing.T) {
	s := newTestStore(t)
	beginRun(t, s, "r1", time.Now())
	anomalies := []*model.Anomaly{
		model.NewAnomaly(model.ErrMalformedContainer, "2023-05-01.jsonl:3", "record skipped", errors.New("bad json")),
		model.NewAnomaly(model.ErrUnresolvableTimestamp, "2023-05-01.jsonl:4", "record dropped from ordering", nil),
		model.NewAnomaly(model.ErrMalformedContainer, "2023-05-01.jsonl:9", "record skipped", nil),
	}
	if err := s.InsertAnomalies("r1", anomalies); err != nil {
		t.Fatalf("InsertAnomalies: %v", err)
	}

	counts, err := s.CountAnomalies("r1")
	if err != nil {
		t.Fatal(err)
	}
	if counts["malformed_container"] != 2 || counts["unresolvable_timestamp"] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	all, err := s.ListAnomalies("r1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Source != "2023-05-01.jsonl:3" {
		t.Fatalf("ListAnomalies = %+v", all)
	}
	if all[0].Detail != "record skipped: bad json" {
		t.Fatalf("detail = %q", all[0].Detail)
	}

	malformed, err := s.ListAnomalies("r1", "malformed_container", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(malformed) != 1 || malformed[0].Kind != "malformed_container" {
		t.Fatalf("filtered = %+v", malformed)
	}
}

func TestStoreImplementsLedger(t *testing.T) {
	var l Ledger = newTestStore(t)
	if err := l.BeginRun("r", time.Now(), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := l.GetRun("r"); err != nil {
		t.Fatal(err)
	}
}
