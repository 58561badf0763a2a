// Package stats implements the Statistics Emitter: it reads the merged
// node and edge tables and produces a stable YAML summary document.
package stats

import (
	"fmt"
	"os"
	"sort"

	"kgmerge/internal/diagnostics"
	"kgmerge/pkg/types"

	"gopkg.in/yaml.v2"
)

// FacetCount is one distinct value of a facet column and its row count.
type FacetCount struct {
	Value string `yaml:"value"`
	Count int64  `yaml:"count"`
}

// SourceContribution counts how many dedup winners came from one source.
type SourceContribution struct {
	SourceName string `yaml:"source_name"`
	SourceRank int    `yaml:"source_rank"`
	Nodes      int64  `yaml:"nodes"`
	Edges      int64  `yaml:"edges"`
}

// Document is the full YAML statistics artifact written to
// output.stats_file.
type Document struct {
	TotalNodes  int64                   `yaml:"total_nodes"`
	TotalEdges  int64                   `yaml:"total_edges"`
	NodeFacets  map[string][]FacetCount `yaml:"node_facets"`
	EdgeFacets  map[string][]FacetCount `yaml:"edge_facets"`
	BySource    []SourceContribution    `yaml:"by_source"`
	Diagnostics map[string]int64        `yaml:"diagnostics"`
}

// Generate computes the statistics document for a merged node/edge set.
// It walks the slices once per configured facet and once more for the
// per-source contributions.
func Generate(nodes []*types.Node, edges []*types.Edge, cfg types.StatsConfig, sink *diagnostics.Sink) *Document {
	doc := &Document{
		TotalNodes: int64(len(nodes)),
		TotalEdges: int64(len(edges)),
		NodeFacets: make(map[string][]FacetCount, len(cfg.NodeFacets)),
		EdgeFacets: make(map[string][]FacetCount, len(cfg.EdgeFacets)),
	}

	for _, facet := range cfg.NodeFacets {
		doc.NodeFacets[facet] = facetCounts(nodeFacetValues(nodes, facet))
	}
	for _, facet := range cfg.EdgeFacets {
		doc.EdgeFacets[facet] = facetCounts(edgeFacetValues(edges, facet))
	}

	doc.BySource = sourceContributions(nodes, edges)
	if sink != nil {
		doc.Diagnostics = sink.Snapshot()
	} else {
		doc.Diagnostics = map[string]int64{}
	}
	return doc
}

// nodeFacetValues extracts a named column's value from every node.
// category and provided_by are read from their own fields; any other
// facet column is looked up in the node's Extra map, and a node without
// that column contributes an empty value.
func nodeFacetValues(nodes []*types.Node, facet string) []string {
	values := make([]string, 0, len(nodes))
	for _, n := range nodes {
		switch facet {
		case "category":
			values = append(values, n.Category)
		case "provided_by":
			values = append(values, n.ProvidedBy)
		default:
			values = append(values, n.Extra[facet])
		}
	}
	return values
}

func edgeFacetValues(edges []*types.Edge, facet string) []string {
	values := make([]string, 0, len(edges))
	for _, e := range edges {
		switch facet {
		case "predicate":
			values = append(values, e.Predicate)
		case "primary_knowledge_source":
			values = append(values, e.PrimaryKnowledgeSource)
		default:
			values = append(values, e.Extra[facet])
		}
	}
	return values
}

// facetCounts tallies distinct values and orders them by descending
// count, lexicographic tie-break.
func facetCounts(values []string) []FacetCount {
	counts := make(map[string]int64, len(values))
	for _, v := range values {
		counts[v]++
	}
	out := make([]FacetCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, FacetCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// sourceContributions counts dedup winners per source, ordered by
// ascending rank then source name. Two sources may share a rank, so the
// tally is keyed by name, not rank alone.
func sourceContributions(nodes []*types.Node, edges []*types.Edge) []SourceContribution {
	bySource := make(map[string]*SourceContribution)
	tally := func(rank int, name string) *SourceContribution {
		c, ok := bySource[name]
		if !ok {
			c = &SourceContribution{SourceName: name, SourceRank: rank}
			bySource[name] = c
		}
		return c
	}

	for _, n := range nodes {
		tally(n.SourceRank, n.SourceName).Nodes++
	}
	for _, e := range edges {
		tally(e.SourceRank, e.SourceName).Edges++
	}

	out := make([]SourceContribution, 0, len(bySource))
	for _, c := range bySource {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceRank != out[j].SourceRank {
			return out[i].SourceRank < out[j].SourceRank
		}
		return out[i].SourceName < out[j].SourceName
	})
	return out
}

// WriteFile marshals doc as YAML and writes it to path.
func WriteFile(path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling statistics: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing statistics file %s: %w", path, err)
	}
	return nil
}
