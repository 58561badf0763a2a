// Package dedup implements the Priority Deduplicator, the engine's
// central component, run once for nodes and once for edges. It
// partitions a canonicalized row stream to disk by hash(key) mod P, then
// merges each partition independently in memory, retaining exactly one
// priority winner per key and the set-union of multi-valued fields.
package dedup

import (
	"encoding/gob"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// maxRepartitionDepth and repartitionFanout bound the recursive
// re-partitioning of any partition that exceeds the memory budget: a
// partition is split into repartitionFanout sub-partitions by rehashing
// its keys with a depth-salted hash, each of which is merged (or split
// again) independently.
const (
	maxRepartitionDepth = 4
	repartitionFanout   = 8
)

// keyedRecord is one row as spilled to a partition run file: its global
// insertion sequence (for the first-occurrence tie-break), its dedup
// key, and the canonicalized value.
type keyedRecord[K comparable, V any] struct {
	Seq   int64
	Key   K
	Value V
}

// partitionWriter fans a canonicalized row stream out to P run files by
// hash(key) mod P. Each file has its own mutex, so concurrent
// canonicalizer/partitioner workers serialize only against others
// writing to the same bucket.
type partitionWriter[K comparable, V any] struct {
	files []*os.File
	encs  []*gob.Encoder
	mus   []sync.Mutex
	keyFn func(V) K

	seqMu sync.Mutex
	seq   int64
}

func hashKey(s string) uint64 {
	return xxhash.Sum64String(s)
}

// hashKeyDepth salts the hash with the re-partitioning depth so a
// sub-partition's bucket assignment is independent of its parent's.
func hashKeyDepth(s string, depth int) uint64 {
	return xxhash.Sum64String(strconv.Itoa(depth) + "\x00" + s)
}

// newPartitionWriter creates (or truncates) one run file per path.
func newPartitionWriter[K comparable, V any](paths []string, keyFn func(V) K) (*partitionWriter[K, V], error) {
	pw := &partitionWriter[K, V]{
		keyFn: keyFn,
		mus:   make([]sync.Mutex, len(paths)),
	}
	for _, p := range paths {
		f, err := os.Create(p)
		if err != nil {
			pw.closeAll()
			return nil, err
		}
		pw.files = append(pw.files, f)
		pw.encs = append(pw.encs, gob.NewEncoder(f))
	}
	return pw, nil
}

// Write routes v to its partition by hashing keyHash (the caller supplies
// the string form of the key so K itself need not be hashable).
func (pw *partitionWriter[K, V]) Write(keyHash string, v V) error {
	idx := int(hashKey(keyHash) % uint64(len(pw.files)))
	seq := pw.nextSeq()

	pw.mus[idx].Lock()
	defer pw.mus[idx].Unlock()
	return pw.encs[idx].Encode(keyedRecord[K, V]{Seq: seq, Key: pw.keyFn(v), Value: v})
}

func (pw *partitionWriter[K, V]) nextSeq() int64 {
	pw.seqMu.Lock()
	defer pw.seqMu.Unlock()
	pw.seq++
	return pw.seq
}

func (pw *partitionWriter[K, V]) closeAll() {
	for _, f := range pw.files {
		f.Close()
	}
}

// Close flushes and closes every run file.
func (pw *partitionWriter[K, V]) Close() error {
	var firstErr error
	for _, f := range pw.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// readPartition loads one run file's records into memory. A missing file
// (an empty partition that was never written to) yields no records, not
// an error.
func readPartition[K comparable, V any](path string) ([]keyedRecord[K, V], error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var out []keyedRecord[K, V]
	for {
		var rec keyedRecord[K, V]
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// partitionSize reports a run file's size on disk, used to decide whether
// a partition must be recursively re-partitioned to stay within the
// memory budget.
func partitionSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// splitPartition rehashes a run file's records into repartitionFanout
// sub-partition files alongside it, depth-salted so a sub-partition's
// bucket assignment doesn't collide with its parent's. It returns the
// sub-partition paths; the caller is responsible for merging and then
// removing them.
func splitPartition[K comparable, V any](path string, depth int) ([]string, error) {
	records, err := readPartition[K, V](path)
	if err != nil {
		return nil, err
	}

	subPaths := make([]string, repartitionFanout)
	files := make([]*os.File, repartitionFanout)
	encs := make([]*gob.Encoder, repartitionFanout)
	for i := range subPaths {
		subPaths[i] = path + "." + strconv.Itoa(depth) + "-" + strconv.Itoa(i)
		f, err := os.Create(subPaths[i])
		if err != nil {
			return nil, err
		}
		files[i] = f
		encs[i] = gob.NewEncoder(f)
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	for _, rec := range records {
		idx := int(hashKeyDepth(keyString(rec.Key), depth) % uint64(repartitionFanout))
		if err := encs[idx].Encode(rec); err != nil {
			return nil, err
		}
	}
	return subPaths, nil
}

// removeAll best-effort removes a set of scratch sub-partition files once
// they've been merged.
func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// keyString renders a dedup key (always a string in this engine: node id
// or the edge key composite built by edgeDedupKey) for re-hashing.
func keyString(k interface{}) string {
	s, _ := k.(string)
	return s
}

// winnerRecord is one already-merged winner as persisted alongside a
// partition's manifest entry, so a resumed run can reload a completed
// partition's output instead of recomputing it.
type winnerRecord[V any] struct {
	Seq   int64
	Value V
}

func writeWinners[V any](path string, seqs []int64, values []V) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := gob.NewEncoder(f)
	for i, v := range values {
		if err := enc.Encode(winnerRecord[V]{Seq: seqs[i], Value: v}); err != nil {
			return err
		}
	}
	return nil
}

func readWinners[V any](path string) ([]int64, []V, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var seqs []int64
	var values []V
	for {
		var rec winnerRecord[V]
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, err
		}
		seqs = append(seqs, rec.Seq)
		values = append(values, rec.Value)
	}
	return seqs, values, nil
}
