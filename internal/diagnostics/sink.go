// Package diagnostics implements the single shared diagnostic sink: a
// write-only destination for row- and source-level diagnostics,
// serialized by a mutex with coarse batching so it never becomes a
// bottleneck for the reader/canonicalizer/partitioner worker pools that
// all write to it concurrently.
package diagnostics

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Categories match the stats file's diagnostics: section.
const (
	CategoryDroppedParse         = "dropped.parse"
	CategoryDroppedInvalid       = "dropped.invalid"
	CategoryDroppedSchemaRefused = "dropped.schema_refused"
	CategoryDanglingRefs         = "dangling_refs"
)

// Entry is one diagnostic occurrence.
type Entry struct {
	Category   string
	SourceName string
	FilePath   string
	Line       int
	Message    string
}

// Sink is the shared, mutex-serialized diagnostic destination every
// worker pool writes to. Counts are kept with atomics so Snapshot never
// blocks a writer; only the log-batching path takes the mutex.
type Sink struct {
	logger *logrus.Logger

	counts sync.Map // category -> *int64

	mu         sync.Mutex
	batch      []Entry
	batchLimit int

	lastFatal atomic.Value // string
}

// NewSink creates a diagnostic sink. batchLimit bounds how many entries
// accumulate before they're flushed to the logger as one grouped
// message.
func NewSink(logger *logrus.Logger, batchLimit int) *Sink {
	if batchLimit <= 0 {
		batchLimit = 200
	}
	return &Sink{logger: logger, batchLimit: batchLimit}
}

// Record counts one diagnostic occurrence and queues it for batched
// logging. Safe for concurrent use by any number of workers.
func (s *Sink) Record(e Entry) {
	counterAny, _ := s.counts.LoadOrStore(e.Category, new(int64))
	atomic.AddInt64(counterAny.(*int64), 1)

	s.mu.Lock()
	s.batch = append(s.batch, e)
	flush := len(s.batch) >= s.batchLimit
	var toFlush []Entry
	if flush {
		toFlush = s.batch
		s.batch = nil
	}
	s.mu.Unlock()

	if flush {
		s.flush(toFlush)
	}
}

// RecordFatal records the single last-line description of a fatal error
// for the run.
func (s *Sink) RecordFatal(message string) {
	s.lastFatal.Store(message)
	s.logger.WithField("component", "diagnostics").Error(message)
}

// LastFatal returns the most recently recorded fatal message, if any.
func (s *Sink) LastFatal() string {
	v, _ := s.lastFatal.Load().(string)
	return v
}

// Flush logs any batch remaining below the batch limit. Called once at
// the end of a run so nothing is lost to an unfilled batch.
func (s *Sink) Flush() {
	s.mu.Lock()
	toFlush := s.batch
	s.batch = nil
	s.mu.Unlock()
	if len(toFlush) > 0 {
		s.flush(toFlush)
	}
}

func (s *Sink) flush(entries []Entry) {
	byCategory := make(map[string]int)
	for _, e := range entries {
		byCategory[e.Category]++
	}
	s.logger.WithFields(logrus.Fields{
		"component": "diagnostics",
		"batch":     byCategory,
	}).Warn("diagnostic batch")
}

// Snapshot returns the current counts per category, for the Statistics
// Emitter's diagnostics: section.
func (s *Sink) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	s.counts.Range(func(k, v interface{}) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// Count returns the current count for a single category.
func (s *Sink) Count(category string) int64 {
	v, ok := s.counts.Load(category)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}
