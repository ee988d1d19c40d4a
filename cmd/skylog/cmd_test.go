package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/daviddao/skylog/pkg/batch"
	"github.com/daviddao/skylog/pkg/config"
	"github.com/daviddao/skylog/pkg/logger"
	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/rkey"
)

// --- envOr tests ---

func TestEnvOr_EnvSet(t *testing.T) {
	t.Setenv("TEST_SKYLOG_ENV", "hello")
	if got := envOr("TEST_SKYLOG_ENV", "default"); got != "hello" {
		t.Fatalf("envOr with set env: got %q, want %q", got, "hello")
	}
}

func TestEnvOr_EmptyEnv(t *testing.T) {
	t.Setenv("TEST_SKYLOG_EMPTY", "")
	if got := envOr("TEST_SKYLOG_EMPTY", "default"); got != "default" {
		t.Fatalf("envOr with empty env: got %q, want %q", got, "default")
	}
}

// --- argument helpers ---

func TestFirstArg(t *testing.T) {
	id, rest := firstArg([]string{"run-1", "--json"})
	if id != "run-1" || len(rest) != 1 || rest[0] != "--json" {
		t.Fatalf("firstArg: got %q %v", id, rest)
	}
	id, rest = firstArg([]string{"--json"})
	if id != "" || len(rest) != 1 {
		t.Fatalf("firstArg with leading flag: got %q %v", id, rest)
	}
	if id, _ := firstArg(nil); id != "" {
		t.Fatalf("firstArg(nil): got %q", id)
	}
}

func TestParseUntil_DayIsInclusive(t *testing.T) {
	ms, err := parseUntil("2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(1704153599999); ms != want {
		t.Fatalf("parseUntil day: got %d, want %d", ms, want)
	}
}

func TestParseUntil_Timestamp(t *testing.T) {
	ms, err := parseUntil("2024-01-01T00:00:01Z")
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(1704067201000); ms != want {
		t.Fatalf("parseUntil timestamp: got %d, want %d", ms, want)
	}
	if _, err := parseUntil("yesterday"); err == nil {
		t.Fatal("parseUntil should reject garbage")
	}
}

func TestDescribeKey(t *testing.T) {
	key := rkey.New(1_700_000_000_123_456, 7)
	info, err := describeKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Micros != 1_700_000_000_123_456 || info.Millis != 1_700_000_000_123 || info.ClockID != 7 {
		t.Fatalf("describeKey: got %+v", info)
	}
	if _, err := describeKey("short"); err == nil {
		t.Fatal("describeKey should reject a malformed key")
	}
}

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]int{"b": 1, "a": 2, "c": 3})
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("sortedKeys: got %v", got)
	}
}

// --- verify ---

func writeBatches(t *testing.T, dir string, batches ...[]int64) {
	t.Helper()
	st, err := batch.Open(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	for i, tss := range batches {
		var recs []model.Record
		for _, ts := range tss {
			recs = append(recs, model.NewTombstone("did:plc:a", "", ts))
		}
		if err := st.Write(model.Batch{Seq: i, Records: recs}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestVerifyDir_Ordered(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, []int64{1, 2}, []int64{2, 5})
	res, err := verifyDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Status.Ordered || res.Status.Records != 4 || res.Status.Frontier != 5 {
		t.Fatalf("verifyDir ordered: got %+v", res.Status)
	}
}

func TestVerifyDir_InversionAndSkippedBatch(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, []int64{5, 10}, []int64{7, 12})
	if err := os.WriteFile(filepath.Join(dir, "2.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := verifyDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status.Ordered || res.Status.Inversions != 1 || res.Status.Overlaps != 1 {
		t.Fatalf("verifyDir inversion: got %+v", res.Status)
	}
	if len(res.Skipped) != 1 || !strings.Contains(res.Skipped[0], "2.json") {
		t.Fatalf("verifyDir skipped: got %v", res.Skipped)
	}
}

// --- cat ---

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteRecords_ReportsWriteError(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, []int64{1, 2}, []int64{3})
	st, err := batch.Open(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if _, err := writeRecords(failWriter{}, st.Iterator(), false, 0); err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("writeRecords to a failing writer: got err=%v", err)
	}
}

func TestWriteRecords_LimitAndFilter(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, []int64{1, 2}, []int64{3})
	st, err := batch.Open(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	var buf bytes.Buffer
	n, err := writeRecords(&buf, st.Iterator(), true, 2)
	if err != nil || n != 2 {
		t.Fatalf("writeRecords: n=%d err=%v", n, err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Fatalf("writeRecords: got %d lines, want 2: %q", lines, buf.String())
	}
}

// --- end to end through the commands ---

func key(ms int64) string { return rkey.New(ms*1000, 0) }

func newTestApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "raw")
	if err := os.MkdirAll(in, 0o755); err != nil {
		t.Fatal(err)
	}
	const base = int64(1_700_000_000_000)
	gone := "at://did:plc:gone/app.bsky.feed.post/" + key(base+150)
	shard := strings.Join([]string{
		`{"$type":"app.bsky.feed.like","did":"did:plc:a","uri":"at://did:plc:a/app.bsky.feed.like/` + key(base+200) + `","subject":{"uri":"` + gone + `"}}`,
		`{"$type":"app.bsky.feed.post","did":"did:plc:a","uri":"at://did:plc:a/app.bsky.feed.post/` + key(base+100) + `"}`,
		`not json`,
	}, "\n")
	if err := os.WriteFile(filepath.Join(in, "2023-11-14.jsonl"), []byte(shard), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.InputDir = in
	cfg.TempDir = filepath.Join(dir, "tmp")
	cfg.OutputDir = filepath.Join(dir, "ordered")
	cfg.ReportDB = filepath.Join(dir, "skylog.db")
	cfg.BatchSize = 1
	a := &app{cfg: cfg, log: logger.Nop()}
	t.Cleanup(a.Close)
	return a
}

func TestCommands_RebuildThenInspect(t *testing.T) {
	a := newTestApp(t)

	var code int
	out := captureStdout(t, func() { code = a.cmdRebuild([]string{"--json"}) })
	if code != 0 {
		t.Fatalf("rebuild: exit %d, output %s", code, out)
	}
	if !strings.Contains(out, `"tombstones_inserted"`) {
		t.Fatalf("rebuild summary: %s", out)
	}

	out = captureStdout(t, func() { code = a.cmdRuns(nil) })
	if code != 0 || !strings.Contains(out, "ok") {
		t.Fatalf("runs: exit %d, output %q", code, out)
	}

	out = captureStdout(t, func() { code = a.cmdReport(nil) })
	if code != 0 || !strings.Contains(out, "tombstones:  1") || !strings.Contains(out, "malformed_container") {
		t.Fatalf("report: exit %d, output %q", code, out)
	}

	out = captureStdout(t, func() { code = a.cmdDangling(nil) })
	if code != 0 || !strings.Contains(out, "did:plc:gone") {
		t.Fatalf("dangling: exit %d, output %q", code, out)
	}

	out = captureStdout(t, func() { code = a.cmdAnomalies([]string{"--kind", "malformed_container"}) })
	if code != 0 || !strings.Contains(out, "2023-11-14.jsonl:3") {
		t.Fatalf("anomalies: exit %d, output %q", code, out)
	}

	out = captureStdout(t, func() { code = a.cmdVerify(nil) })
	if code != 0 || !strings.Contains(out, "ORDERED") {
		t.Fatalf("verify: exit %d, output %q", code, out)
	}

	out = captureStdout(t, func() { code = a.cmdCat([]string{"--tombstones"}) })
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if code != 0 || len(lines) != 1 || !strings.Contains(lines[0], `"deleted":true`) {
		t.Fatalf("cat: exit %d, output %q", code, out)
	}
}

func TestCommands_ForgetRemovesRun(t *testing.T) {
	a := newTestApp(t)
	captureStdout(t, func() { a.cmdRebuild([]string{"--json"}) })

	r, err := a.resolveRun("")
	if err != nil {
		t.Fatal(err)
	}
	var code int
	captureStdout(t, func() { code = a.cmdForget([]string{r.ID}) })
	if code != 0 {
		t.Fatalf("forget: exit %d", code)
	}
	if _, err := a.resolveRun(""); err == nil {
		t.Fatal("forget: run still present")
	}
}

func TestCommands_RebuildInvalidConfig(t *testing.T) {
	a := newTestApp(t)
	var code int
	errOut := captureStderr(t, func() { code = a.cmdRebuild([]string{"--batch-size", "0", "--no-ledger"}) })
	if code != 1 || !strings.Contains(errOut, "batch_size") {
		t.Fatalf("rebuild with B=0: exit %d, stderr %q", code, errOut)
	}
}

// --- helpers ---

func capture(t *testing.T, target **os.File, fn func()) string {
	t.Helper()
	old := *target
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	*target = w
	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	w.Close()
	*target = old
	return <-done
}

func captureStdout(t *testing.T, fn func()) string { return capture(t, &os.Stdout, fn) }

func captureStderr(t *testing.T, fn func()) string { return capture(t, &os.Stderr, fn) }
