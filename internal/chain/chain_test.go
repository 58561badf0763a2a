package chain

import (
	"context"
	"fmt"
	"io"
	"testing"

	"kgmerge/internal/spill"
	"kgmerge/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *spill.Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mgr := spill.NewManager(t.TempDir(), logger)
	require.NoError(t, mgr.Prepare(1, false, false))
	return mgr
}

// taxonToChebiChain walks Taxon to Proteomes to Uniprot to RHEA to
// CHEBI, restricted to predicate = biolink:has_output on the last hop.
func taxonToChebiChain() types.ChainConfig {
	return types.ChainConfig{
		Name:       "taxon_to_chebi",
		LeftEnd:    "object",
		LeftLabel:  "taxon_id",
		RightLabel: "chebi_id",
		Hops: []types.ChainHop{
			{SubjectPrefix: "Proteomes", ObjectPrefix: "NCBITaxon", CarryEnd: "subject"},
			{SubjectPrefix: "UniprotKB", ObjectPrefix: "Proteomes", AnchorEnd: "object", CarryEnd: "subject"},
			{SubjectPrefix: "UniprotKB", ObjectPrefix: "RHEA", AnchorEnd: "subject", CarryEnd: "object"},
			{SubjectPrefix: "RHEA", ObjectPrefix: "CHEBI", Predicate: "biolink:has_output", AnchorEnd: "subject", CarryEnd: "object"},
		},
	}
}

func TestExecuteFourHopChain(t *testing.T) {
	edges := []*types.Edge{
		{Subject: "Proteomes:UP1", Object: "NCBITaxon:562", Predicate: "biolink:derives_from"},
		{Subject: "UniprotKB:X", Object: "Proteomes:UP1", Predicate: "biolink:member_of"},
		{Subject: "UniprotKB:X", Object: "RHEA:R1", Predicate: "biolink:catalyzes"},
		{Subject: "RHEA:R1", Object: "CHEBI:C1", Predicate: "biolink:has_output"},
	}

	pairs, err := Execute(context.Background(), edges, taxonToChebiChain(), 0, testManager(t))
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, Pair{Left: "NCBITaxon:562", Right: "CHEBI:C1"}, pairs[0])
}

func TestExecuteMissingHopOmitsTuple(t *testing.T) {
	edges := []*types.Edge{
		{Subject: "Proteomes:UP1", Object: "NCBITaxon:562", Predicate: "biolink:derives_from"},
		// No UniprotKB -> Proteomes edge, so the chain can never reach CHEBI.
		{Subject: "RHEA:R1", Object: "CHEBI:C1", Predicate: "biolink:has_output"},
	}

	pairs, err := Execute(context.Background(), edges, taxonToChebiChain(), 0, testManager(t))
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestExecuteLastHopPredicateFilterApplies(t *testing.T) {
	edges := []*types.Edge{
		{Subject: "Proteomes:UP1", Object: "NCBITaxon:562", Predicate: "biolink:derives_from"},
		{Subject: "UniprotKB:X", Object: "Proteomes:UP1", Predicate: "biolink:member_of"},
		{Subject: "UniprotKB:X", Object: "RHEA:R1", Predicate: "biolink:catalyzes"},
		{Subject: "RHEA:R1", Object: "CHEBI:C1", Predicate: "biolink:has_input"},
	}

	pairs, err := Execute(context.Background(), edges, taxonToChebiChain(), 0, testManager(t))
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestExecuteOutputIsDistinct(t *testing.T) {
	edges := []*types.Edge{
		{Subject: "Proteomes:UP1", Object: "NCBITaxon:562", Predicate: "biolink:derives_from"},
		{Subject: "UniprotKB:X", Object: "Proteomes:UP1", Predicate: "biolink:member_of"},
		{Subject: "UniprotKB:Y", Object: "Proteomes:UP1", Predicate: "biolink:member_of"},
		{Subject: "UniprotKB:X", Object: "RHEA:R1", Predicate: "biolink:catalyzes"},
		{Subject: "UniprotKB:Y", Object: "RHEA:R1", Predicate: "biolink:catalyzes"},
		{Subject: "RHEA:R1", Object: "CHEBI:C1", Predicate: "biolink:has_output"},
	}

	pairs, err := Execute(context.Background(), edges, taxonToChebiChain(), 0, testManager(t))
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestExecuteEmptyIdentifierNeverMatches(t *testing.T) {
	edges := []*types.Edge{
		{Subject: "Proteomes:UP1", Object: "", Predicate: "biolink:derives_from"},
	}
	pairs, err := Execute(context.Background(), edges, taxonToChebiChain(), 0, testManager(t))
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestExecuteAllReturnsPairsByChainName(t *testing.T) {
	edges := []*types.Edge{
		{Subject: "Proteomes:UP1", Object: "NCBITaxon:562", Predicate: "biolink:derives_from"},
		{Subject: "UniprotKB:X", Object: "Proteomes:UP1", Predicate: "biolink:member_of"},
		{Subject: "UniprotKB:X", Object: "RHEA:R1", Predicate: "biolink:catalyzes"},
		{Subject: "RHEA:R1", Object: "CHEBI:C1", Predicate: "biolink:has_output"},
	}
	chains := []types.ChainConfig{taxonToChebiChain()}

	results, err := ExecuteAll(context.Background(), edges, chains, 0, testManager(t))
	require.NoError(t, err)
	require.Contains(t, results, "taxon_to_chebi")
	assert.Len(t, results["taxon_to_chebi"], 1)
}

func TestExecuteCheckpointsLargeRelation(t *testing.T) {
	var edges []*types.Edge
	for i := 0; i < 50; i++ {
		edges = append(edges,
			&types.Edge{Subject: fmt.Sprintf("Proteomes:UP%d", i), Object: fmt.Sprintf("NCBITaxon:%d", i%26), Predicate: "biolink:derives_from"},
		)
	}

	cfg := types.ChainConfig{
		Name:    "taxon_seed",
		LeftEnd: "object",
		Hops:    []types.ChainHop{{SubjectPrefix: "Proteomes", ObjectPrefix: "NCBITaxon", CarryEnd: "subject"}},
	}
	mgr := testManager(t)
	_, err := Execute(context.Background(), edges, cfg, 1, mgr)
	require.NoError(t, err)
	assert.FileExists(t, mgr.PartitionPath("chain-taxon_seed-hop0", 0))
}
