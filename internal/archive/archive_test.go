package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func finishedJob(t *testing.T, fail bool) job.Job {
	t.Helper()
	j := job.New("/media/in.mkv", "/media/in.av1.mkv", job.DefaultEncodingConfig())
	j.MarkStarted()
	if fail {
		j.MarkFailed("SvtAv1EncApp exited with status 1")
	} else {
		j.MarkCompleted()
	}
	return j
}

func TestRecordAndList(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	done := finishedJob(t, false)
	failed := finishedJob(t, true)
	if err := a.Record(ctx, done); err != nil {
		t.Fatalf("Record completed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	failed.FinishedAt = ptrTime(time.Now().Add(time.Second))
	if err := a.Record(ctx, failed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := a.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].ID != failed.ID.String() || entries[0].Status != job.StatusFailed {
		t.Fatalf("newest entry = %+v", entries[0])
	}
	if entries[0].ErrorMessage == "" || entries[1].ErrorMessage != "" {
		t.Fatalf("error messages not preserved: %+v", entries)
	}
	if entries[1].Encoder != "svt-av1" || entries[1].StartedAt == nil || entries[1].FinishedAt == nil {
		t.Fatalf("completed entry = %+v", entries[1])
	}

	limited, err := a.List(ctx, 1)
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}

func TestRecordUpsertsRetriedJob(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	j := finishedJob(t, true)
	if err := a.Record(ctx, j); err != nil {
		t.Fatal(err)
	}
	j.ResetForRetry()
	j.MarkStarted()
	j.MarkCompleted()
	if err := a.Record(ctx, j); err != nil {
		t.Fatal(err)
	}

	counts, err := a.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if counts[job.StatusCompleted] != 1 || counts[job.StatusFailed] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestRecordRejectsRunningJob(t *testing.T) {
	a := openTestArchive(t)
	j := job.New("in", "out", job.DefaultEncodingConfig())
	j.MarkStarted()
	if err := a.Record(context.Background(), j); err == nil {
		t.Fatal("expected running job to be rejected")
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Record(context.Background(), finishedJob(t, false)); err != nil {
		t.Fatal(err)
	}
	_ = a.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	entries, err := reopened.List(context.Background(), 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, err = %v", entries, err)
	}
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = a.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("err = %v, want schema mismatch", err)
	}
}

func TestNilArchiveRecordIsNoop(t *testing.T) {
	var a *Archive
	if err := a.Record(context.Background(), finishedJob(t, false)); err != nil {
		t.Fatalf("nil archive should ignore records: %v", err)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	if !isSQLiteBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("expected busy detection")
	}
	if isSQLiteBusy(errors.New("no such table")) {
		t.Fatal("unexpected busy detection")
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
