package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/safetygate/internal/model"
)

func newTestLog(t *testing.T) (*FileSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testRecord(outcome string) Record {
	return Record{
		Timestamp:  time.Now().UTC().Format(TimestampFormat),
		DecisionID: "d-test123",
		CallerID:   "u1",
		SessionID:  "s1",
		Outcome:    outcome,
		Reason:     "test reason",
		Verdicts:   []model.Verdict{model.PassVerdict("length")},
	}
}

func appendN(t *testing.T, l *FileSink, n int, outcome string) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := l.Append(context.Background(), testRecord(outcome)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	appendN(t, l, 5, "allow")
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestAppendReturnsDistinctAuditIDs(t *testing.T) {
	l, _ := newTestLog(t)
	defer l.Close()

	id1, err := l.Append(context.Background(), testRecord("allow"))
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := l.Append(context.Background(), testRecord("allow"))
	if id1 == "" || id1 == id2 {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", id1, id2)
	}
}

func TestAppendKeepsPresetAuditID(t *testing.T) {
	l, _ := newTestLog(t)
	defer l.Close()

	rec := testRecord("allow")
	rec.AuditID = "fixed-id"
	id, err := l.Append(context.Background(), rec)
	if err != nil || id != "fixed-id" {
		t.Fatalf("expected preset id, got %q / %v", id, err)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	appendN(t, l, 3, "block")
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"block"`, `"allow"`, 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	appendN(t, l, 3, "allow")
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	os.WriteFile(path, []byte(lines[0]+"\n"+lines[2]+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsInsertedEntry(t *testing.T) {
	l, path := newTestLog(t)
	appendN(t, l, 3, "allow")
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	fake := testRecord("allow")
	fake.AuditID = "forged"
	fake.PrevHash = "sha256:fake"
	fakeJSON, _ := json.Marshal(fake)
	inserted := []string{lines[0], string(fakeJSON), lines[1], lines[2]}
	os.WriteFile(path, []byte(strings.Join(inserted, "\n")+"\n"), 0644)

	if Verify(path).Valid {
		t.Fatal("expected chain with inserted entry to be invalid")
	}
}

func TestVerifyRejectsRecordWithoutAuditID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noid.jsonl")
	line, _ := json.Marshal(Record{Outcome: "allow", PrevHash: GenesisHash})
	os.WriteFile(path, append(line, '\n'), 0644)

	if Verify(path).Valid {
		t.Fatal("expected record without audit_id to fail verification")
	}
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte{}, 0644)

	result := Verify(path)
	if !result.Valid || result.Lines != 0 {
		t.Fatalf("expected empty valid log, got %+v", result)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "missing.jsonl"))
	if result.Valid || result.Error == "" {
		t.Fatalf("expected open error, got %+v", result)
	}
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(context.Background(), testRecord("allow"))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after concurrent writes, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 100 {
		t.Fatalf("expected 100 lines, got %d", result.Lines)
	}
}

func TestGenesisHashIsCorrect(t *testing.T) {
	l, path := newTestLog(t)
	appendN(t, l, 1, "allow")
	l.Close()

	data, _ := os.ReadFile(path)
	var rec Record
	json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec)
	if rec.PrevHash != GenesisHash {
		t.Fatalf("expected genesis hash %s, got %s", GenesisHash, rec.PrevHash)
	}
}

func TestHashLineIsDeterministic(t *testing.T) {
	line := []byte(`{"audit_id":"a","ts":"2025-01-15T10:30:00.000Z","decision_id":"d","caller_id":"u","outcome":"allow","verdicts":[],"developmental_safeguard":false,"prev_hash":"sha256:def"}`)
	h1 := HashLine(line)
	if h1 != HashLine(line) {
		t.Fatal("expected same hash")
	}
	if !strings.HasPrefix(h1, "sha256:") || len(h1) != 7+64 {
		t.Fatalf("unexpected hash format %s", h1)
	}
	if HashLine([]byte("v1")) == HashLine([]byte("v2")) {
		t.Fatal("expected different hashes for different inputs")
	}
}

func TestOpenExistingLogContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.jsonl")

	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	appendN(t, l1, 3, "allow")
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	appendN(t, l2, 2, "block")
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 5 {
		t.Fatalf("expected valid 5-line chain after reopen, got %+v", result)
	}
}

func TestAppendAfterClose(t *testing.T) {
	l, _ := newTestLog(t)
	l.Close()
	if _, err := l.Append(context.Background(), testRecord("allow")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestAppendHonoursCancelledContext(t *testing.T) {
	l, path := newTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Append(ctx, testRecord("allow")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	l.Close()
	if Verify(path).Lines != 0 {
		t.Fatal("cancelled append must not write")
	}
}

func TestVerify10KEntriesUnder1Second(t *testing.T) {
	l, path := newTestLog(t)
	appendN(t, l, 10000, "allow")
	l.Close()

	start := time.Now()
	result := Verify(path)
	elapsed := time.Since(start)

	if !result.Valid || result.Lines != 10000 {
		t.Fatalf("expected valid 10000-line chain, got %+v", result)
	}
	if elapsed > time.Second {
		t.Fatalf("verification took %v, expected < 1s", elapsed)
	}
}

func TestNewRecordCarriesOnlyDerivedSafeguard(t *testing.T) {
	d := model.Decision{
		ID:        "d1",
		Outcome:   model.Warn,
		Reason:    model.ReasonSafeguard,
		Reference: model.TemporalReference{At: time.Date(2026, 1, 2, 3, 4, 5, 6e6, time.UTC)},
		SessionID: "s1",
		Safeguard: model.SafeguardStrict,
		Detail:    "boom",
	}
	rec := NewRecord(d, "u1")
	if rec.Timestamp != "2026-01-02T03:04:05.006Z" {
		t.Errorf("expected reference timestamp, got %s", rec.Timestamp)
	}
	if !rec.Safeguard || rec.Error != "boom" || rec.Verdicts == nil {
		t.Errorf("unexpected record %+v", rec)
	}
	data, _ := json.Marshal(rec)
	if strings.Contains(string(data), "strict") {
		t.Errorf("record leaks safeguard level: %s", data)
	}
}

func TestFailedSyncIsRolledBack(t *testing.T) {
	l, path := newTestLog(t)
	appendN(t, l, 1, "allow")

	failures := 1
	l.sync = func() error {
		if failures > 0 {
			failures--
			return errors.New("input/output error")
		}
		return l.file.Sync()
	}

	s := NewRetrySink(l, fastRetry, nil)
	if _, err := s.Append(context.Background(), testRecord("allow")); err != nil {
		t.Fatalf("append after transient sync failure: %v", err)
	}
	appendN(t, l, 1, "block")
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("chain broken at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 3 {
		t.Fatalf("expected 3 records, got %d", result.Lines)
	}
}

func TestUnrecoverableSyncFailureStopsAppends(t *testing.T) {
	// A pipe accepts writes but can be neither synced nor truncated.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	l := newFileSink("pipe", w, GenesisHash, 0)

	s := NewRetrySink(l, fastRetry, nil)
	_, err = s.Append(context.Background(), testRecord("allow"))
	if !errors.Is(err, ErrBroken) {
		t.Fatalf("expected ErrBroken, got %v", err)
	}
	if _, err := l.Append(context.Background(), testRecord("allow")); !errors.Is(err, ErrBroken) {
		t.Fatalf("expected later appends to fail with ErrBroken, got %v", err)
	}
	l.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(out), "\n"); n != 1 {
		t.Fatalf("expected one record written, got %d", n)
	}
}
