package diagnostics

import (
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRecordCountsByCategory(t *testing.T) {
	s := NewSink(testLogger(), 200)
	s.Record(Entry{Category: CategoryDroppedParse})
	s.Record(Entry{Category: CategoryDroppedParse})
	s.Record(Entry{Category: CategoryDroppedInvalid})

	if got := s.Count(CategoryDroppedParse); got != 2 {
		t.Fatalf("Count(parse) = %d, want 2", got)
	}
	if got := s.Count(CategoryDroppedInvalid); got != 1 {
		t.Fatalf("Count(invalid) = %d, want 1", got)
	}
	if got := s.Count("never_recorded"); got != 0 {
		t.Fatalf("Count(never_recorded) = %d, want 0", got)
	}
}

func TestSnapshotReflectsAllCategories(t *testing.T) {
	s := NewSink(testLogger(), 200)
	s.Record(Entry{Category: CategoryDanglingRefs})
	s.Record(Entry{Category: CategoryDroppedSchemaRefused})

	snap := s.Snapshot()
	if snap[CategoryDanglingRefs] != 1 || snap[CategoryDroppedSchemaRefused] != 1 {
		t.Fatalf("Snapshot() = %+v, missing expected categories", snap)
	}
}

// TestRecordConcurrentIsRaceFree exercises the sink the way the engine
// uses it: many workers recording diagnostics concurrently against one
// shared sink.
func TestRecordConcurrentIsRaceFree(t *testing.T) {
	s := NewSink(testLogger(), 10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Record(Entry{Category: CategoryDroppedParse})
		}()
	}
	wg.Wait()
	if got := s.Count(CategoryDroppedParse); got != 50 {
		t.Fatalf("Count(parse) = %d, want 50", got)
	}
}

func TestFlushDrainsPartialBatch(t *testing.T) {
	s := NewSink(testLogger(), 200)
	s.Record(Entry{Category: CategoryDroppedInvalid})
	s.Flush()
	if len(s.batch) != 0 {
		t.Fatalf("batch still has %d entries after Flush", len(s.batch))
	}
}

func TestRecordFatalTracksLastMessage(t *testing.T) {
	s := NewSink(testLogger(), 200)
	if s.LastFatal() != "" {
		t.Fatal("LastFatal() should start empty")
	}
	s.RecordFatal("first")
	s.RecordFatal("second")
	if got := s.LastFatal(); got != "second" {
		t.Fatalf("LastFatal() = %q, want %q", got, "second")
	}
}
