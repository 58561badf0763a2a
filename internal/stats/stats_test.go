package stats

import (
	"io"
	"path/filepath"
	"testing"

	"kgmerge/internal/diagnostics"
	"kgmerge/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSink(t *testing.T) *diagnostics.Sink {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return diagnostics.NewSink(logger, 10)
}

func sampleNodes() []*types.Node {
	return []*types.Node{
		{ID: "CHEBI:1", Category: "biolink:ChemicalEntity", ProvidedBy: "chebi", SourceName: "chebi", SourceRank: 0},
		{ID: "CHEBI:2", Category: "biolink:ChemicalEntity", ProvidedBy: "chebi", SourceName: "chebi", SourceRank: 0},
		{ID: "NCBITaxon:1", Category: "biolink:OrganismTaxon", ProvidedBy: "ncbitaxon", SourceName: "ncbitaxon", SourceRank: 1},
	}
}

func sampleEdges() []*types.Edge {
	return []*types.Edge{
		{Subject: "CHEBI:1", Object: "CHEBI:2", Predicate: "biolink:related_to", SourceName: "chebi", SourceRank: 0},
		{Subject: "CHEBI:2", Object: "CHEBI:1", Predicate: "biolink:related_to", SourceName: "chebi", SourceRank: 0},
		{Subject: "NCBITaxon:1", Object: "CHEBI:1", Predicate: "biolink:has_role", SourceName: "ncbitaxon", SourceRank: 1},
	}
}

func TestGenerateTotalsAndFacets(t *testing.T) {
	cfg := types.StatsConfig{
		NodeFacets: []string{"category"},
		EdgeFacets: []string{"predicate"},
	}
	doc := Generate(sampleNodes(), sampleEdges(), cfg, testSink(t))

	assert.EqualValues(t, 3, doc.TotalNodes)
	assert.EqualValues(t, 3, doc.TotalEdges)

	require.Len(t, doc.NodeFacets["category"], 2)
	assert.Equal(t, "biolink:ChemicalEntity", doc.NodeFacets["category"][0].Value)
	assert.EqualValues(t, 2, doc.NodeFacets["category"][0].Count)

	require.Len(t, doc.EdgeFacets["predicate"], 2)
	assert.Equal(t, "biolink:related_to", doc.EdgeFacets["predicate"][0].Value)
	assert.EqualValues(t, 2, doc.EdgeFacets["predicate"][0].Count)
}

func TestGenerateFacetOrderDescendingCountLexicographicTieBreak(t *testing.T) {
	nodes := []*types.Node{
		{ID: "a", Category: "zeta"},
		{ID: "b", Category: "alpha"},
		{ID: "c", Category: "alpha"},
		{ID: "d", Category: "beta"},
	}
	cfg := types.StatsConfig{NodeFacets: []string{"category"}}
	doc := Generate(nodes, nil, cfg, testSink(t))

	got := doc.NodeFacets["category"]
	require.Len(t, got, 3)
	assert.Equal(t, "alpha", got[0].Value)
	assert.EqualValues(t, 2, got[0].Count)
	// beta and zeta both have count 1; lexicographic tie-break orders beta first.
	assert.Equal(t, "beta", got[1].Value)
	assert.Equal(t, "zeta", got[2].Value)
}

func TestGenerateBySourceContribution(t *testing.T) {
	cfg := types.StatsConfig{}
	doc := Generate(sampleNodes(), sampleEdges(), cfg, testSink(t))

	require.Len(t, doc.BySource, 2)
	assert.Equal(t, 0, doc.BySource[0].SourceRank)
	assert.EqualValues(t, 2, doc.BySource[0].Nodes)
	assert.EqualValues(t, 2, doc.BySource[0].Edges)
	assert.Equal(t, 1, doc.BySource[1].SourceRank)
	assert.EqualValues(t, 1, doc.BySource[1].Nodes)
	assert.EqualValues(t, 1, doc.BySource[1].Edges)
}

func TestGenerateIncludesDiagnosticsSnapshot(t *testing.T) {
	sink := testSink(t)
	sink.Record(diagnostics.Entry{Category: diagnostics.CategoryDroppedParse, SourceName: "chebi", Line: 4})

	doc := Generate(nil, nil, types.StatsConfig{}, sink)
	assert.EqualValues(t, 1, doc.Diagnostics[diagnostics.CategoryDroppedParse])
}

func TestWriteFileProducesYAML(t *testing.T) {
	doc := Generate(sampleNodes(), sampleEdges(), types.StatsConfig{NodeFacets: []string{"category"}}, testSink(t))
	path := filepath.Join(t.TempDir(), "stats.yaml")
	require.NoError(t, WriteFile(path, doc))
}
