package dedup

import (
	"context"
	"fmt"
	"sort"

	"kgmerge/internal/spill"
	"kgmerge/pkg/setutil"
	"kgmerge/pkg/types"

	"golang.org/x/sync/errgroup"
)

// nodeAccumulator merges every row sharing one node key into a single
// winner plus the set-union of its multi-valued fields:
// xref/synonym/subsets are unioned across every row sharing the key,
// independent of which row's scalar fields win.
type nodeAccumulator struct {
	winner    *types.Node
	firstSeq  int64
	hasWinner bool
	xref      *setutil.StringSet
	synonym   *setutil.StringSet
	subsets   *setutil.StringSet
}

func newNodeAccumulator() *nodeAccumulator {
	return &nodeAccumulator{xref: setutil.New(), synonym: setutil.New(), subsets: setutil.New()}
}

// absorb folds one more row sharing this accumulator's key in. firstSeq
// tracks the key's earliest occurrence (not necessarily the winning
// row's), since output order is stable with respect to first occurrence
// of the key, not of the winning row.
func (a *nodeAccumulator) absorb(seq int64, n *types.Node) {
	if !a.hasWinner || seq < a.firstSeq {
		a.firstSeq = seq
	}
	if !a.hasWinner || betterNode(n, a.winner) {
		a.winner = n
		a.hasWinner = true
	}
	a.xref.AddAll(n.Xref)
	a.synonym.AddAll(n.Synonym)
	a.subsets.AddAll(n.Subsets)
}

func (a *nodeAccumulator) finalize(preserveOrder bool) *types.Node {
	out := *a.winner
	if preserveOrder {
		out.Xref = a.xref.InsertionOrder()
		out.Synonym = a.synonym.InsertionOrder()
		out.Subsets = a.subsets.InsertionOrder()
	} else {
		out.Xref = a.xref.Sorted()
		out.Synonym = a.synonym.Sorted()
		out.Subsets = a.subsets.Sorted()
	}
	return &out
}

// DedupNodes runs the Priority Deduplicator over a canonicalized node
// stream: it partitions by hash(id) mod P to disk, merges each partition
// independently (recursively re-partitioning any that exceed
// partitionBytes), and returns the winners ordered by the sequence
// number of their key's first occurrence.
//
// Partitions are independent, so their merges run concurrently; a
// completed partition's winners are persisted so a resumed run reloads
// them instead of recomputing.
func DedupNodes(ctx context.Context, nodes <-chan *types.Node, cfg *types.DedupConfig, partitionBytes int64, mgr *spill.Manager) ([]*types.Node, error) {
	p := cfg.PartitionCount
	if p <= 0 {
		p = 1
	}
	paths := make([]string, p)
	for i := range paths {
		paths[i] = mgr.PartitionPath("nodes", i)
	}

	pw, err := newPartitionWriter[string, *types.Node](paths, func(n *types.Node) string { return n.NodeKey() })
	if err != nil {
		return nil, fmt.Errorf("opening node partitions: %w", err)
	}

	for n := range nodes {
		select {
		case <-ctx.Done():
			pw.Close()
			return nil, ctx.Err()
		default:
		}
		if err := pw.Write(n.NodeKey(), n); err != nil {
			pw.Close()
			return nil, fmt.Errorf("writing node partition: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("closing node partitions: %w", err)
	}

	winnersByPart := make([][]*types.Node, p)
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

			winnersPath := mgr.PartitionPath("nodes-winners", i)
			if mgr.IsPartitionDone("nodes", i) {
				seqs, winners, err := readWinners[*types.Node](winnersPath)
				if err != nil {
					return fmt.Errorf("reloading node partition %d: %w", i, err)
				}
				winnersByPart[i] = winners
				seqsByPart[i] = seqs
				return nil
			}

			winners, seqs, err := mergeNodePartitionRecursive(paths[i], cfg, partitionBytes, 0)
			if err != nil {
				return fmt.Errorf("merging node partition %d: %w", i, err)
			}
			if err := writeWinners(winnersPath, seqs, winners); err != nil {
				return fmt.Errorf("persisting node partition %d winners: %w", i, err)
			}
			if err := mgr.MarkPartitionDone("nodes", i); err != nil {
				return fmt.Errorf("marking node partition %d done: %w", i, err)
			}
			winnersByPart[i] = winners
			seqsByPart[i] = seqs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return flattenNodesBySeq(winnersByPart, seqsByPart), nil
}

func mergeNodePartition(path string, cfg *types.DedupConfig) ([]*types.Node, []int64, error) {
	records, err := readPartition[string, *types.Node](path)
	if err != nil {
		return nil, nil, err
	}

	accs := make(map[string]*nodeAccumulator)
	var order []string
	for _, rec := range records {
		acc, ok := accs[rec.Key]
		if !ok {
			acc = newNodeAccumulator()
			accs[rec.Key] = acc
			order = append(order, rec.Key)
		}
		acc.absorb(rec.Seq, rec.Value)
	}

	winners := make([]*types.Node, 0, len(order))
	seqs := make([]int64, 0, len(order))
	for _, key := range order {
		acc := accs[key]
		winners = append(winners, acc.finalize(cfg.PreserveInsertionOrder))
		seqs = append(seqs, acc.firstSeq)
	}
	return winners, seqs, nil
}

// mergeNodePartitionRecursive merges a partition in memory, or, if it
// exceeds partitionBytes and the recursion limit hasn't been reached,
// splits it into sub-partitions and merges each independently.
func mergeNodePartitionRecursive(path string, cfg *types.DedupConfig, partitionBytes int64, depth int) ([]*types.Node, []int64, error) {
	if partitionBytes <= 0 || depth >= maxRepartitionDepth || partitionSize(path) <= partitionBytes {
		return mergeNodePartition(path, cfg)
	}

	subPaths, err := splitPartition[string, *types.Node](path, depth)
	if err != nil {
		return nil, nil, err
	}
	defer removeAll(subPaths)

	var winners []*types.Node
	var seqs []int64
	for _, sp := range subPaths {
		w, s, err := mergeNodePartitionRecursive(sp, cfg, partitionBytes, depth+1)
		if err != nil {
			return nil, nil, err
		}
		winners = append(winners, w...)
		seqs = append(seqs, s...)
	}
	return winners, seqs, nil
}

func flattenNodesBySeq(winnersByPart [][]*types.Node, seqsByPart [][]int64) []*types.Node {
	type indexed struct {
		seq  int64
		node *types.Node
	}
	var all []indexed
	for i := range winnersByPart {
		for j := range winnersByPart[i] {
			all = append(all, indexed{seq: seqsByPart[i][j], node: winnersByPart[i][j]})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]*types.Node, len(all))
	for i, rec := range all {
		out[i] = rec.node
	}
	return out
}
