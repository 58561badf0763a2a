package canon

import (
	"io"
	"testing"

	"kgmerge/internal/diagnostics"
	"kgmerge/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSink() *diagnostics.Sink {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return diagnostics.NewSink(logger, 10)
}

func defaultCanon() *Canonicalizer {
	return New(map[string]string{
		"medium:":     "mediadive.medium:",
		"solution:":   "mediadive.solution:",
		"ingredient:": "mediadive.ingredient:",
		"strain:":     "kgmicrobe.strain:",
		"ec:":         "EC:",
		"eccode:":     "EC:",
	}, map[string]string{
		"biolink:ChemicalSubstance": "biolink:ChemicalEntity",
	})
}

func TestCanonNodePrefixRewriteAndMediaCategory(t *testing.T) {
	c := defaultCanon()
	row := &types.RawRow{Fields: map[string]string{"id": "medium:1", "category": "biolink:ChemicalEntity", "name": "NUTRIENT AGAR"}}
	node, ok := c.CanonNode(row, testSink())
	require.True(t, ok)
	assert.Equal(t, "mediadive.medium:1", node.ID)
	assert.Equal(t, "METPO:1004005", node.Category)
	assert.Equal(t, "NUTRIENT AGAR", node.Name)
}

func TestCanonNodeECCanonicalization(t *testing.T) {
	c := defaultCanon()
	row := &types.RawRow{Fields: map[string]string{
		"id":       "https://www.ebi.ac.uk/intenz/query?cmd=SearchEC&ec=1.1.1.1",
		"category": "biolink:MolecularActivity",
	}}
	node, ok := c.CanonNode(row, testSink())
	require.True(t, ok)
	assert.Equal(t, "EC:1.1.1.1", node.ID)
	assert.Equal(t, "biolink:MolecularActivity", node.Category)
	assert.Equal(t, "https://enzyme.expasy.org/EC/1.1.1.1", node.IRI)
}

func TestCanonNodeDropsEmptyID(t *testing.T) {
	c := defaultCanon()
	sink := testSink()
	row := &types.RawRow{Fields: map[string]string{"id": "   ", "category": "biolink:ChemicalEntity"}}
	_, ok := c.CanonNode(row, sink)
	require.False(t, ok)
	assert.Equal(t, int64(1), sink.Count(diagnostics.CategoryDroppedInvalid))
}

func TestCanonNodeWhitespaceCanonicalizesToSameKey(t *testing.T) {
	c := defaultCanon()
	row1 := &types.RawRow{Fields: map[string]string{"id": "CHEBI:1", "category": "biolink:ChemicalEntity"}}
	row2 := &types.RawRow{Fields: map[string]string{"id": "  CHEBI:1  ", "category": "biolink:ChemicalEntity"}}
	n1, _ := c.CanonNode(row1, testSink())
	n2, _ := c.CanonNode(row2, testSink())
	assert.Equal(t, n1.ID, n2.ID)
}

func TestCanonIsIdempotent(t *testing.T) {
	c := defaultCanon()
	row := &types.RawRow{Fields: map[string]string{"id": "medium:1", "category": "biolink:ChemicalSubstance"}}
	once, ok := c.CanonNode(row, testSink())
	require.True(t, ok)

	row2 := &types.RawRow{Fields: map[string]string{"id": once.ID, "category": once.Category}}
	twice, ok := c.CanonNode(row2, testSink())
	require.True(t, ok)

	assert.Equal(t, once.ID, twice.ID)
	assert.Equal(t, once.Category, twice.Category)
}

func TestCanonLegacyPrefixesSecondPassChangesNothing(t *testing.T) {
	c := defaultCanon()
	for _, prefix := range []string{"medium:1", "solution:1", "ingredient:1", "strain:1", "eccode:1.1.1.1"} {
		row := &types.RawRow{Fields: map[string]string{"id": prefix, "category": "biolink:ChemicalEntity"}}
		n1, ok := c.CanonNode(row, testSink())
		require.True(t, ok)

		row2 := &types.RawRow{Fields: map[string]string{"id": n1.ID, "category": n1.Category}}
		n2, ok := c.CanonNode(row2, testSink())
		require.True(t, ok)
		assert.Equal(t, n1.ID, n2.ID)
	}
}

func TestCanonEdgeDropsEmptyPredicate(t *testing.T) {
	c := defaultCanon()
	sink := testSink()
	row := &types.RawRow{IsEdge: true, Fields: map[string]string{"subject": "NCBITaxon:562", "object": "GO:1", "predicate": ""}}
	_, ok := c.CanonEdge(row, sink)
	require.False(t, ok)
	assert.Equal(t, int64(1), sink.Count(diagnostics.CategoryDroppedInvalid))
}

func TestCanonEdgeRewritesSubjectObjectPrefixes(t *testing.T) {
	c := defaultCanon()
	row := &types.RawRow{IsEdge: true, Fields: map[string]string{"subject": "strain:1", "object": "ingredient:2", "predicate": "biolink:consumes"}}
	edge, ok := c.CanonEdge(row, testSink())
	require.True(t, ok)
	assert.Equal(t, "kgmicrobe.strain:1", edge.Subject)
	assert.Equal(t, "mediadive.ingredient:2", edge.Object)
}

func TestCanonPreservesUnknownColumns(t *testing.T) {
	c := defaultCanon()
	row := &types.RawRow{Fields: map[string]string{"id": "CHEBI:1", "category": "biolink:ChemicalEntity", "custom_col": " value "}}
	node, ok := c.CanonNode(row, testSink())
	require.True(t, ok)
	assert.Equal(t, "value", node.Extra["custom_col"])
}

func TestCanonUnicodeRoundTrips(t *testing.T) {
	c := defaultCanon()
	row := &types.RawRow{Fields: map[string]string{"id": "CHEBI:1", "category": "biolink:ChemicalEntity", "name": "Glukóza α-D"}}
	node, ok := c.CanonNode(row, testSink())
	require.True(t, ok)
	assert.Equal(t, "Glukóza α-D", node.Name)
}
