package spill

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPrepareFreshDirectorySucceeds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spill")
	mgr := NewManager(dir, testLogger())
	if err := mgr.Prepare(4, false, false); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if mgr.IsPartitionDone("nodes", 0) {
		t.Fatal("a fresh run must not report any partition as done")
	}
}

// TestPrepareRefusesDirtyDirectory: a spill directory left behind by a
// crash is refused on the next run unless --resume or --force-resume is
// given.
func TestPrepareRefusesDirtyDirectory(t *testing.T) {
	dir := t.TempDir()

	first := NewManager(dir, testLogger())
	if err := first.Prepare(2, false, false); err != nil {
		t.Fatalf("first Prepare() error = %v", err)
	}
	if err := first.MarkPartitionDone("nodes", 0); err != nil {
		t.Fatalf("MarkPartitionDone() error = %v", err)
	}
	// No MarkCompleted: this simulates a crash mid-run.

	second := NewManager(dir, testLogger())
	if err := second.Prepare(2, false, false); err != ErrDirty {
		t.Fatalf("Prepare() on a dirty directory = %v, want ErrDirty", err)
	}
}

func TestPrepareResumeReloadsCompletedPartitions(t *testing.T) {
	dir := t.TempDir()

	first := NewManager(dir, testLogger())
	if err := first.Prepare(2, false, false); err != nil {
		t.Fatalf("first Prepare() error = %v", err)
	}
	if err := first.MarkPartitionDone("nodes", 0); err != nil {
		t.Fatalf("MarkPartitionDone() error = %v", err)
	}

	second := NewManager(dir, testLogger())
	if err := second.Prepare(2, true, false); err != nil {
		t.Fatalf("resumed Prepare() error = %v", err)
	}
	if !second.IsPartitionDone("nodes", 0) {
		t.Fatal("resumed manager should recognize partition 0 as already done")
	}
	if second.IsPartitionDone("nodes", 1) {
		t.Fatal("resumed manager must not mark an untouched partition as done")
	}
}

func TestPrepareForceResumeDiscardsPriorRun(t *testing.T) {
	dir := t.TempDir()

	first := NewManager(dir, testLogger())
	if err := first.Prepare(2, false, false); err != nil {
		t.Fatalf("first Prepare() error = %v", err)
	}
	if err := first.MarkPartitionDone("nodes", 0); err != nil {
		t.Fatalf("MarkPartitionDone() error = %v", err)
	}

	second := NewManager(dir, testLogger())
	if err := second.Prepare(2, false, true); err != nil {
		t.Fatalf("force-resume Prepare() error = %v", err)
	}
	if second.IsPartitionDone("nodes", 0) {
		t.Fatal("force-resume must start over, discarding the prior manifest")
	}
}

// TestPartitionDoneIsKindScoped guards against the node and edge dedup
// passes, which both number partitions from zero, shadowing each
// other's completion state.
func TestPartitionDoneIsKindScoped(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, testLogger())
	if err := mgr.Prepare(2, false, false); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := mgr.MarkPartitionDone("nodes", 0); err != nil {
		t.Fatalf("MarkPartitionDone() error = %v", err)
	}
	if mgr.IsPartitionDone("edges", 0) {
		t.Fatal("completing node partition 0 must not mark edge partition 0 done")
	}
}

func TestMarkCompletedAllowsCleanReuse(t *testing.T) {
	dir := t.TempDir()

	first := NewManager(dir, testLogger())
	if err := first.Prepare(1, false, false); err != nil {
		t.Fatalf("first Prepare() error = %v", err)
	}
	if err := first.MarkCompleted(); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	second := NewManager(dir, testLogger())
	if err := second.Prepare(1, false, false); err != nil {
		t.Fatalf("Prepare() after a clean completion should not be refused: %v", err)
	}
}

func TestCleanupRemovesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spill")
	mgr := NewManager(dir, testLogger())
	if err := mgr.Prepare(1, false, false); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("spill directory should no longer exist after Cleanup")
	}
}
