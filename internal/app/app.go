// Package app wires the Tabular Source Reader, Canonicalizer, Priority
// Deduplicator, Chain Reducer, and Statistics Emitter into the full
// merge run: reader to canonicalizer to deduplicator, then chain
// reduction and statistics emission in parallel off the merged tables.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kgmerge/internal/canon"
	"kgmerge/internal/chain"
	"kgmerge/internal/config"
	"kgmerge/internal/dedup"
	"kgmerge/internal/diagnostics"
	"kgmerge/internal/metrics"
	"kgmerge/internal/reader"
	"kgmerge/internal/spill"
	"kgmerge/internal/stats"
	"kgmerge/internal/writer"
	apperrors "kgmerge/pkg/errors"
	"kgmerge/pkg/types"
	"kgmerge/pkg/workerpool"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrPartialFailure is returned by Run when the merge completed but one
// or more sources were refused: a partial success, reported with exit
// code 4.
var ErrPartialFailure = errors.New("one or more sources were refused during the merge")

// Options controls one invocation of the merge engine.
type Options struct {
	// Only, when non-empty, narrows the run to "stats" (re-emit stats
	// from existing merged tables) or "chain=<name>" (re-run a single
	// chain projection). Empty runs the full merge.
	Only string

	// Resume continues a prior run from its spill manifest; ForceResume
	// discards it and starts over.
	Resume      bool
	ForceResume bool
}

// App owns the long-lived collaborators of one merge run: configuration,
// structured logger, diagnostic sink, metrics, and the spill manager.
type App struct {
	cfg    *types.Config
	logger *logrus.Logger
	sink   *diagnostics.Sink
	mx     *metrics.Metrics
	mxSrv  *metrics.Server
	spillM *spill.Manager
}

// New loads configuration from configPath and assembles an App ready to
// Run. A config load/validation failure is returned as-is and maps to
// exit code 1.
func New(configPath string) (*App, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig(configPath, logger)
	if err != nil {
		return nil, err
	}

	sink := diagnostics.NewSink(logger, 200)
	mx := metrics.New()

	var mxSrv *metrics.Server
	if cfg.Metrics.Enabled {
		mxSrv = metrics.NewServer(cfg.Metrics.Addr, mx, logger)
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		mx:     mx,
		mxSrv:  mxSrv,
		spillM: spill.NewManager(cfg.Memory.SpillDir, logger),
	}, nil
}

// Run executes the merge according to opts.
func (a *App) Run(ctx context.Context, opts Options) error {
	if a.mxSrv != nil {
		a.mxSrv.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.mxSrv.Stop(stopCtx)
		}()
	}

	switch {
	case opts.Only == "stats":
		return a.runStatsOnly(ctx)
	case strings.HasPrefix(opts.Only, "chain="):
		return a.runChainOnly(ctx, strings.TrimPrefix(opts.Only, "chain="))
	case opts.Only != "":
		return fmt.Errorf("unrecognized --only value %q", opts.Only)
	default:
		return a.runFullMerge(ctx, opts)
	}
}

// runFullMerge performs the complete read/canonicalize/dedup pipeline,
// then chain reduction and statistics, and writes every output
// artifact.
func (a *App) runFullMerge(ctx context.Context, opts Options) error {
	if err := a.spillM.Prepare(a.cfg.Dedup.PartitionCount, opts.Resume, opts.ForceResume); err != nil {
		return err
	}

	nodes, edges, refused, err := a.mergeSources(ctx)
	if err != nil {
		return err
	}
	a.reportPartitionSizes()

	a.checkDangling(nodes, edges)
	if a.cfg.Strict && a.sink.Count(diagnostics.CategoryDanglingRefs) > 0 {
		return apperrors.NewFatal(apperrors.CodeDanglingReference, "app", "strict_check",
			fmt.Sprintf("%d dangling edge reference(s) found under strict mode", a.sink.Count(diagnostics.CategoryDanglingRefs)))
	}

	if err := a.writeMergedTables(nodes, edges); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runChains(gctx, edges) })
	g.Go(func() error { return a.writeStats(nodes, edges) })
	if err := g.Wait(); err != nil {
		return err
	}

	a.sink.Flush()
	if err := a.spillM.MarkCompleted(); err != nil {
		return err
	}
	if err := a.spillM.Cleanup(); err != nil {
		return err
	}

	if refused > 0 {
		return ErrPartialFailure
	}
	return nil
}

// mergeSources runs the reader/canonicalizer/dedup pipeline for every
// configured source and returns the deduplicated node and edge tables.
// Node and edge dedup share no state and run concurrently.
func (a *App) mergeSources(ctx context.Context) ([]*types.Node, []*types.Edge, int32, error) {
	can := canon.New(a.cfg.Canon.PrefixMap, a.cfg.Canon.CategoryMap)

	nodesCh := make(chan *types.Node, 4096)
	edgesCh := make(chan *types.Edge, 4096)

	// mergeCtx unblocks producers stuck on a full channel when either
	// dedup pass fails before draining its input; without it the ingest
	// tasks would never finish and the pool would never stop.
	mergeCtx, cancelMerge := context.WithCancel(ctx)
	defer cancelMerge()

	queueSize := len(a.cfg.Sources)*2 + 1
	// Each task streams an entire source file, which can run far longer
	// than the pool's 30s default: pass an effectively unbounded per-task
	// timeout. Overall deadlines are the caller's concern, not the
	// pool's.
	pool := workerpool.New(workerpool.Config{QueueSize: queueSize, WorkerTimeout: 7 * 24 * time.Hour}, a.logger)
	pool.Start()

	var refused int32
	var wg sync.WaitGroup

	for _, src := range a.cfg.Sources {
		src := src
		if src.NodesPath != "" {
			wg.Add(1)
			if err := pool.Submit(workerpool.Task{
				ID: "nodes:" + src.Name,
				Execute: func(context.Context) error {
					defer wg.Done()
					return a.streamNodes(mergeCtx, src, can, nodesCh, &refused)
				},
			}); err != nil {
				wg.Done()
				a.refuseSource(src.Name, "node", err, &refused)
			}
		}
		if src.EdgesPath != "" {
			wg.Add(1)
			if err := pool.Submit(workerpool.Task{
				ID: "edges:" + src.Name,
				Execute: func(context.Context) error {
					defer wg.Done()
					return a.streamEdges(mergeCtx, src, can, edgesCh, &refused)
				},
			}); err != nil {
				wg.Done()
				a.refuseSource(src.Name, "edge", err, &refused)
			}
		}
	}

	go func() {
		wg.Wait()
		pool.Stop()
		close(nodesCh)
		close(edgesCh)
	}()

	var nodes []*types.Node
	var edges []*types.Edge
	g, gctx := errgroup.WithContext(mergeCtx)
	g.Go(func() error {
		var err error
		nodes, err = dedup.DedupNodes(gctx, nodesCh, &a.cfg.Dedup, a.cfg.Memory.PartitionBytes, a.spillM)
		return err
	})
	g.Go(func() error {
		var err error
		edges, err = dedup.DedupEdges(gctx, edgesCh, &a.cfg.Dedup, a.cfg.Memory.PartitionBytes, a.spillM)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, refused, err
	}
	return nodes, edges, refused, nil
}

// streamNodes reads one source's node file, canonicalizes each row, and
// forwards canonical nodes to out. A schema or read error refuses the
// whole source rather than aborting the engine: it is logged, counted,
// and the pipeline continues with whatever other sources remain.
func (a *App) streamNodes(ctx context.Context, src types.SourceConfig, can *canon.Canonicalizer, out chan<- *types.Node, refused *int32) error {
	desc := reader.SourceDescriptor{SourceName: src.Name, SourceRank: src.Rank, Path: src.NodesPath, IsEdge: false}
	rd, err := reader.Open(desc, a.sink)
	if err != nil {
		a.refuseSource(src.Name, "node", err, refused)
		return nil
	}

	it := rd.Rows()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		row, err := it.Next()
		if err != nil {
			a.refuseSource(src.Name, "node", err, refused)
			return nil
		}
		if row == nil {
			return nil
		}
		a.mx.RowsRead.WithLabelValues(src.Name, "node").Inc()

		node, ok := can.CanonNode(row, a.sink)
		if !ok {
			a.mx.RowsDropped.WithLabelValues(diagnostics.CategoryDroppedInvalid).Inc()
			continue
		}
		select {
		case out <- node:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// streamEdges is streamNodes' edge-side counterpart.
func (a *App) streamEdges(ctx context.Context, src types.SourceConfig, can *canon.Canonicalizer, out chan<- *types.Edge, refused *int32) error {
	desc := reader.SourceDescriptor{SourceName: src.Name, SourceRank: src.Rank, Path: src.EdgesPath, IsEdge: true}
	rd, err := reader.Open(desc, a.sink)
	if err != nil {
		a.refuseSource(src.Name, "edge", err, refused)
		return nil
	}

	it := rd.Rows()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		row, err := it.Next()
		if err != nil {
			a.refuseSource(src.Name, "edge", err, refused)
			return nil
		}
		if row == nil {
			return nil
		}
		a.mx.RowsRead.WithLabelValues(src.Name, "edge").Inc()

		edge, ok := can.CanonEdge(row, a.sink)
		if !ok {
			a.mx.RowsDropped.WithLabelValues(diagnostics.CategoryDroppedInvalid).Inc()
			continue
		}
		select {
		case out <- edge:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *App) refuseSource(sourceName, kind string, err error, refused *int32) {
	atomic.AddInt32(refused, 1)
	a.sink.Record(diagnostics.Entry{
		Category:   diagnostics.CategoryDroppedSchemaRefused,
		SourceName: sourceName,
		Message:    fmt.Sprintf("%s source refused: %v", kind, err),
	})
	a.logger.WithFields(logrus.Fields{"source": sourceName, "kind": kind, "error": err}).
		Error("refusing source")
	a.sink.RecordFatal(fmt.Sprintf("source %q (%s) refused: %v", sourceName, kind, err))
}

// reportPartitionSizes exposes each dedup partition run file's on-disk
// size as a gauge before the spill directory is cleaned up.
// Best-effort: a stat failure just leaves that partition's gauge unset.
func (a *App) reportPartitionSizes() {
	for _, kind := range []string{"nodes", "edges"} {
		for i := 0; i < a.cfg.Dedup.PartitionCount; i++ {
			path := a.spillM.PartitionPath(kind, i)
			if fi, err := os.Stat(path); err == nil {
				a.mx.PartitionBytes.WithLabelValues(kind, fmt.Sprintf("%d", i)).Set(float64(fi.Size()))
			}
		}
	}
}

// checkDangling counts edges whose subject or object id was never
// materialized as a node. Not fatal unless Strict is set (checked by
// the caller).
func (a *App) checkDangling(nodes []*types.Node, edges []*types.Edge) {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}
	for _, e := range edges {
		_, subjectOK := ids[e.Subject]
		_, objectOK := ids[e.Object]
		if subjectOK && objectOK {
			continue
		}
		a.sink.Record(diagnostics.Entry{
			Category: diagnostics.CategoryDanglingRefs,
			Message:  fmt.Sprintf("edge (%s, %s) references a node id never materialized in output", e.Subject, e.Object),
		})
	}
}

func (a *App) writeMergedTables(nodes []*types.Node, edges []*types.Edge) error {
	nodePath := filepath.Join(a.cfg.Output.Dir, a.cfg.Output.NodeFile)
	if err := writer.WriteNodes(nodePath, nodes); err != nil {
		return a.outputError("write_nodes", err)
	}
	a.mx.DedupWinners.WithLabelValues("node").Add(float64(len(nodes)))

	edgePath := filepath.Join(a.cfg.Output.Dir, a.cfg.Output.EdgeFile)
	if err := writer.WriteEdges(edgePath, edges); err != nil {
		return a.outputError("write_edges", err)
	}
	a.mx.DedupWinners.WithLabelValues("edge").Add(float64(len(edges)))
	return nil
}

// runChains evaluates every configured chain and writes each to its
// own output file.
func (a *App) runChains(ctx context.Context, edges []*types.Edge) error {
	if len(a.cfg.Chains) == 0 {
		return nil
	}
	results, err := chain.ExecuteAll(ctx, edges, a.cfg.Chains, a.cfg.Memory.PartitionBytes, a.spillM)
	if err != nil {
		return fmt.Errorf("chain reduction: %w", err)
	}
	for _, c := range a.cfg.Chains {
		pairs := results[c.Name]
		if len(pairs) == 0 {
			a.logger.WithField("chain", c.Name).Warn("chain produced no rows")
		}
		a.mx.ChainJoinSize.WithLabelValues(c.Name, "final").Set(float64(len(pairs)))
		path := a.chainPath(c.Name)
		if err := writer.WriteChainPairs(path, c.LeftLabel, c.RightLabel, pairs); err != nil {
			return a.outputError("write_chain", err)
		}
	}
	return nil
}

// outputError classifies a write failure as disk-exhaustion (exit code
// 3) or a generic fatal output I/O error (exit code 1); either aborts
// the whole engine.
func (a *App) outputError(operation string, err error) error {
	code := apperrors.CodeOutputIOError
	if apperrors.IsDiskFull(err) {
		code = apperrors.CodeDiskExhausted
	}
	return apperrors.NewFatal(code, "app", operation, err.Error()).Wrap(err)
}

func (a *App) chainPath(name string) string {
	return filepath.Join(a.cfg.Output.Dir, fmt.Sprintf("%s_%s.tsv", a.cfg.Output.ChainFilePrefix, name))
}

func (a *App) writeStats(nodes []*types.Node, edges []*types.Edge) error {
	doc := stats.Generate(nodes, edges, a.cfg.Stats, a.sink)
	path := filepath.Join(a.cfg.Output.Dir, a.cfg.Output.StatsFile)
	if err := stats.WriteFile(path, doc); err != nil {
		return a.outputError("write_stats", err)
	}
	return nil
}

// runStatsOnly re-emits the statistics document from the already-merged
// output tables without re-running dedup.
func (a *App) runStatsOnly(ctx context.Context) error {
	nodes, edges, err := a.loadMergedTables(ctx)
	if err != nil {
		return err
	}
	a.checkDangling(nodes, edges)
	return a.writeStats(nodes, edges)
}

// runChainOnly re-runs a single chain projection against the
// already-merged edge table.
func (a *App) runChainOnly(ctx context.Context, name string) error {
	var cfg *types.ChainConfig
	for i := range a.cfg.Chains {
		if a.cfg.Chains[i].Name == name {
			cfg = &a.cfg.Chains[i]
			break
		}
	}
	if cfg == nil {
		return fmt.Errorf("no chain named %q configured", name)
	}

	_, edges, err := a.loadMergedTables(ctx)
	if err != nil {
		return err
	}

	pairs, err := chain.Execute(ctx, edges, *cfg, a.cfg.Memory.PartitionBytes, a.spillM)
	if err != nil {
		return fmt.Errorf("chain %q: %w", name, err)
	}
	if len(pairs) == 0 {
		a.logger.WithField("chain", name).Warn("chain produced no rows")
	}
	return writer.WriteChainPairs(a.chainPath(name), cfg.LeftLabel, cfg.RightLabel, pairs)
}

// loadMergedTables re-ingests the already-written merged node/edge
// tables as a single rank-0 source, reusing the reader/canonicalizer
// pipeline (canonicalization is idempotent) instead of a separate
// parser.
func (a *App) loadMergedTables(ctx context.Context) ([]*types.Node, []*types.Edge, error) {
	can := canon.New(a.cfg.Canon.PrefixMap, a.cfg.Canon.CategoryMap)

	nodePath := filepath.Join(a.cfg.Output.Dir, a.cfg.Output.NodeFile)
	edgePath := filepath.Join(a.cfg.Output.Dir, a.cfg.Output.EdgeFile)

	if _, err := os.Stat(nodePath); err != nil {
		return nil, nil, fmt.Errorf("no merged node table at %s: %w", nodePath, err)
	}
	if _, err := os.Stat(edgePath); err != nil {
		return nil, nil, fmt.Errorf("no merged edge table at %s: %w", edgePath, err)
	}

	nodeDesc := reader.SourceDescriptor{SourceName: "merged", SourceRank: 0, Path: nodePath, IsEdge: false}
	nodeRd, err := reader.Open(nodeDesc, a.sink)
	if err != nil {
		return nil, nil, err
	}
	var nodes []*types.Node
	it := nodeRd.Rows()
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		row, err := it.Next()
		if err != nil {
			return nil, nil, err
		}
		if row == nil {
			break
		}
		if n, ok := can.CanonNode(row, a.sink); ok {
			nodes = append(nodes, n)
		}
	}

	edgeDesc := reader.SourceDescriptor{SourceName: "merged", SourceRank: 0, Path: edgePath, IsEdge: true}
	edgeRd, err := reader.Open(edgeDesc, a.sink)
	if err != nil {
		return nil, nil, err
	}
	var edges []*types.Edge
	eit := edgeRd.Rows()
	for {
		row, err := eit.Next()
		if err != nil {
			return nil, nil, err
		}
		if row == nil {
			break
		}
		if e, ok := can.CanonEdge(row, a.sink); ok {
			edges = append(edges, e)
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
	}

	return nodes, edges, nil
}

// ExitCode maps a Run error to the process exit code: 0 success, 1
// fatal I/O or configuration error, 2 cancelled, 3 disk space
// exhausted, 4 partial failure (some sources refused).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 2
	}
	if ae, ok := apperrors.AsAppError(err); ok {
		switch ae.Code {
		case apperrors.CodeCancelled:
			return 2
		case apperrors.CodeDiskExhausted:
			return 3
		}
	}
	if errors.Is(err, ErrPartialFailure) {
		return 4
	}
	if apperrors.IsDiskFull(err) {
		return 3
	}
	return 1
}
