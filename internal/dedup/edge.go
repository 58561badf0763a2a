package dedup

import (
	"context"
	"fmt"
	"sort"

	"kgmerge/internal/spill"
	"kgmerge/pkg/types"

	"golang.org/x/sync/errgroup"
)

// edgeAccumulator merges every row sharing one edge dedup key down to a
// single priority winner. Unlike nodes, edges have no multi-valued
// fields to union: the winner's scalar fields are the output verbatim.
type edgeAccumulator struct {
	winner    *types.Edge
	firstSeq  int64
	hasWinner bool
}

func (a *edgeAccumulator) absorb(priority []string, seq int64, e *types.Edge) {
	if !a.hasWinner || seq < a.firstSeq {
		a.firstSeq = seq
	}
	if !a.hasWinner || betterEdge(priority, e, a.winner) {
		a.winner = e
		a.hasWinner = true
	}
}

// DedupEdges runs the Priority Deduplicator over a canonicalized edge
// stream. Edges matching a hard-pruned prefix pair are dropped before
// they ever reach the partitioner; edges matching a fan-out-exempt pair
// are keyed on (subject, object, predicate) so every distinct predicate
// survives, while all other edges are keyed on (subject, object) alone
// so only the single highest-priority predicate survives.
func DedupEdges(ctx context.Context, edges <-chan *types.Edge, cfg *types.DedupConfig, partitionBytes int64, mgr *spill.Manager) ([]*types.Edge, error) {
	p := cfg.PartitionCount
	if p <= 0 {
		p = 1
	}
	paths := make([]string, p)
	for i := range paths {
		paths[i] = mgr.PartitionPath("edges", i)
	}

	keyFn := func(e *types.Edge) string { return edgeDedupKey(cfg.FanoutExemptPairs, e) }
	pw, err := newPartitionWriter[string, *types.Edge](paths, keyFn)
	if err != nil {
		return nil, fmt.Errorf("opening edge partitions: %w", err)
	}

	for e := range edges {
		select {
		case <-ctx.Done():
			pw.Close()
			return nil, ctx.Err()
		default:
		}
		if ShouldPrune(cfg.PrunedPairs, e) {
			continue
		}
		if err := pw.Write(keyFn(e), e); err != nil {
			pw.Close()
			return nil, fmt.Errorf("writing edge partition: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("closing edge partitions: %w", err)
	}

	winnersByPart := make([][]*types.Edge, p)
	seqsByPart := make([][]int64, p)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			winnersPath := mgr.PartitionPath("edges-winners", i)
			if mgr.IsPartitionDone("edges", i) {
				seqs, winners, err := readWinners[*types.Edge](winnersPath)
				if err != nil {
					return fmt.Errorf("reloading edge partition %d: %w", i, err)
				}
				winnersByPart[i] = winners
				seqsByPart[i] = seqs
				return nil
			}

			winners, seqs, err := mergeEdgePartitionRecursive(paths[i], cfg, partitionBytes, 0)
			if err != nil {
				return fmt.Errorf("merging edge partition %d: %w", i, err)
			}
			if err := writeWinners(winnersPath, seqs, winners); err != nil {
				return fmt.Errorf("persisting edge partition %d winners: %w", i, err)
			}
			if err := mgr.MarkPartitionDone("edges", i); err != nil {
				return fmt.Errorf("marking edge partition %d done: %w", i, err)
			}
			winnersByPart[i] = winners
			seqsByPart[i] = seqs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return flattenEdgesBySeq(winnersByPart, seqsByPart), nil
}

func mergeEdgePartition(path string, cfg *types.DedupConfig) ([]*types.Edge, []int64, error) {
	records, err := readPartition[string, *types.Edge](path)
	if err != nil {
		return nil, nil, err
	}

	accs := make(map[string]*edgeAccumulator)
	var order []string
	for _, rec := range records {
		acc, ok := accs[rec.Key]
		if !ok {
			acc = &edgeAccumulator{}
			accs[rec.Key] = acc
			order = append(order, rec.Key)
		}
		acc.absorb(cfg.PredicatePriority, rec.Seq, rec.Value)
	}

	winners := make([]*types.Edge, 0, len(order))
	seqs := make([]int64, 0, len(order))
	for _, key := range order {
		acc := accs[key]
		winners = append(winners, acc.winner)
		seqs = append(seqs, acc.firstSeq)
	}
	return winners, seqs, nil
}

func mergeEdgePartitionRecursive(path string, cfg *types.DedupConfig, partitionBytes int64, depth int) ([]*types.Edge, []int64, error) {
	if partitionBytes <= 0 || depth >= maxRepartitionDepth || partitionSize(path) <= partitionBytes {
		return mergeEdgePartition(path, cfg)
	}

	subPaths, err := splitPartition[string, *types.Edge](path, depth)
	if err != nil {
		return nil, nil, err
	}
	defer removeAll(subPaths)

	var winners []*types.Edge
	var seqs []int64
	for _, sp := range subPaths {
		w, s, err := mergeEdgePartitionRecursive(sp, cfg, partitionBytes, depth+1)
		if err != nil {
			return nil, nil, err
		}
		winners = append(winners, w...)
		seqs = append(seqs, s...)
	}
	return winners, seqs, nil
}

func flattenEdgesBySeq(winnersByPart [][]*types.Edge, seqsByPart [][]int64) []*types.Edge {
	type indexed struct {
		seq  int64
		edge *types.Edge
	}
	var all []indexed
	for i := range winnersByPart {
		for j := range winnersByPart[i] {
			all = append(all, indexed{seq: seqsByPart[i][j], edge: winnersByPart[i][j]})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]*types.Edge, len(all))
	for i, rec := range all {
		out[i] = rec.edge
	}
	return out
}
