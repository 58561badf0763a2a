// Package chain implements the Chain Reducer: multi-hop joins over the
// deduplicated edge table, materializing a projected relation such as
// Taxon to Proteomes to Uniprot to RHEA to CHEBI as a distinct pair
// table.
//
// Each hop's running relation is held in memory in full. A relation
// whose estimated size exceeds the memory budget is also written to the
// spill directory as a checkpoint; that copy is not read back and does
// not lower peak memory.
//
// A chain of length L is evaluated as a left-deep sequence of hash
// joins: the first hop seeds a running relation of (left, key) pairs;
// each subsequent hop probes its own filtered edge slice against the
// running relation's key, carrying the matched endpoint forward as the
// new key (or, on the last hop, as the final right-hand output column).
package chain

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kgmerge/internal/spill"
	"kgmerge/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Pair is one output row of a chain projection: the fixed left column
// and the final right column.
type Pair struct {
	Left  string
	Right string
}

// chainRow is one row of an intermediate running relation: the chain's
// fixed left value, carried unchanged since hop 0, and the running join
// key produced by the most recently applied hop.
type chainRow struct {
	Left string
	Key  string
}

// relationRowEstimateBytes converts an intermediate relation's row
// count into the size estimate checkpoint compares against the memory
// budget. The hash-join build side must still be memory-resident to
// probe against, so a checkpoint records the relation for crash
// diagnosis rather than relieving peak memory (see DESIGN.md).
const relationRowEstimateBytes = 64

// Execute runs one chain specification over the deduplicated edge table
// and returns its distinct (left, right) pairs. Output order is
// unspecified.
func Execute(ctx context.Context, edges []*types.Edge, cfg types.ChainConfig, partitionBytes int64, mgr *spill.Manager) ([]Pair, error) {
	if len(cfg.Hops) == 0 {
		return nil, fmt.Errorf("chain %q declares no hops", cfg.Name)
	}

	rel, err := seedRelation(edges, cfg.Hops[0], cfg.LeftEnd)
	if err != nil {
		return nil, fmt.Errorf("chain %q hop 0: %w", cfg.Name, err)
	}
	if err := checkpoint(cfg.Name, 0, rel, partitionBytes, mgr); err != nil {
		return nil, err
	}

	for i := 1; i < len(cfg.Hops); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rel, err = joinHop(rel, edges, cfg.Hops[i])
		if err != nil {
			return nil, fmt.Errorf("chain %q hop %d: %w", cfg.Name, i, err)
		}
		if err := checkpoint(cfg.Name, i, rel, partitionBytes, mgr); err != nil {
			return nil, err
		}
	}

	seen := make(map[Pair]struct{}, len(rel))
	out := make([]Pair, 0, len(rel))
	for _, r := range rel {
		p := Pair{Left: r.Left, Right: r.Key}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// chainResultMutex serializes writes into ExecuteAll's shared results
// map; each chain's goroutine only ever touches its own key, so this
// guards map-internal bookkeeping, not cross-chain data races.
type chainResultMutex struct{ mu sync.Mutex }

func (m *chainResultMutex) set(results map[string][]Pair, name string, pairs []Pair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results[name] = pairs
}

// ExecuteAll runs every declared chain concurrently (chains are
// independent) and returns each chain's pairs keyed by chain name. The
// first chain to fail cancels the rest.
func ExecuteAll(ctx context.Context, edges []*types.Edge, chains []types.ChainConfig, partitionBytes int64, mgr *spill.Manager) (map[string][]Pair, error) {
	results := make(map[string][]Pair, len(chains))
	var mu chainResultMutex

	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range chains {
		cfg := cfg
		g.Go(func() error {
			pairs, err := Execute(gctx, edges, cfg, partitionBytes, mgr)
			if err != nil {
				return err
			}
			mu.set(results, cfg.Name, pairs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// endpointValue returns an edge's subject or object, by name.
func endpointValue(e *types.Edge, end string) string {
	if end == "object" {
		return e.Object
	}
	return e.Subject
}

func oppositeEnd(end string) string {
	if end == "object" {
		return "subject"
	}
	return "object"
}

// matchesHop reports whether e satisfies a hop's CURIE-prefix and
// predicate filters. Empty identifiers never match.
func matchesHop(e *types.Edge, h types.ChainHop) bool {
	if e.Subject == "" || e.Object == "" {
		return false
	}
	if h.SubjectPrefix != "" && types.CURIEPrefix(e.Subject) != h.SubjectPrefix {
		return false
	}
	if h.ObjectPrefix != "" && types.CURIEPrefix(e.Object) != h.ObjectPrefix {
		return false
	}
	if h.Predicate != "" && e.Predicate != h.Predicate {
		return false
	}
	return true
}

// seedRelation builds hop 0's running relation: leftEnd names which of
// hop 0's endpoints is the chain's fixed left output column; the
// opposite endpoint seeds the running join key for hop 1.
func seedRelation(edges []*types.Edge, hop0 types.ChainHop, leftEnd string) ([]chainRow, error) {
	if leftEnd != "subject" && leftEnd != "object" {
		return nil, fmt.Errorf("left_end must be \"subject\" or \"object\", got %q", leftEnd)
	}
	keyEnd := oppositeEnd(leftEnd)

	var rel []chainRow
	for _, e := range edges {
		if !matchesHop(e, hop0) {
			continue
		}
		rel = append(rel, chainRow{Left: endpointValue(e, leftEnd), Key: endpointValue(e, keyEnd)})
	}
	return rel, nil
}

// joinHop probes hop's filtered edges against rel's running key,
// carrying each match's CarryEnd endpoint forward as the new running
// key. A missing hop (no matching row) simply omits the tuple.
func joinHop(rel []chainRow, edges []*types.Edge, hop types.ChainHop) ([]chainRow, error) {
	if hop.AnchorEnd != "subject" && hop.AnchorEnd != "object" {
		return nil, fmt.Errorf("anchor_end must be \"subject\" or \"object\", got %q", hop.AnchorEnd)
	}
	if hop.CarryEnd != "subject" && hop.CarryEnd != "object" {
		return nil, fmt.Errorf("carry_end must be \"subject\" or \"object\", got %q", hop.CarryEnd)
	}

	index := make(map[string][]string, len(rel))
	for _, r := range rel {
		index[r.Key] = append(index[r.Key], r.Left)
	}

	var out []chainRow
	for _, e := range edges {
		if !matchesHop(e, hop) {
			continue
		}
		anchorVal := endpointValue(e, hop.AnchorEnd)
		lefts, ok := index[anchorVal]
		if !ok {
			continue
		}
		carryVal := endpointValue(e, hop.CarryEnd)
		for _, left := range lefts {
			out = append(out, chainRow{Left: left, Key: carryVal})
		}
	}
	return out, nil
}

// checkpoint persists a hop's running relation to the spill directory
// once it grows past partitionBytes, so a crash mid-chain leaves a
// post-mortem trail. partitionBytes <= 0 disables checkpointing.
func checkpoint(chainName string, hopIdx int, rel []chainRow, partitionBytes int64, mgr *spill.Manager) error {
	if partitionBytes <= 0 || int64(len(rel))*relationRowEstimateBytes <= partitionBytes {
		return nil
	}

	path := mgr.PartitionPath(fmt.Sprintf("chain-%s-hop%d", chainName, hopIdx), 0)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpointing chain %q hop %d: %w", chainName, hopIdx, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpointing chain %q hop %d: %w", chainName, hopIdx, err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	for _, r := range rel {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("checkpointing chain %q hop %d: %w", chainName, hopIdx, err)
		}
	}
	return nil
}
