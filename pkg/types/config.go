package types

// Config is the root declarative configuration for a merge run.
type Config struct {
	Sources []SourceConfig `yaml:"sources"`
	Dedup   DedupConfig    `yaml:"dedup"`
	Canon   CanonConfig    `yaml:"canon"`
	Memory  MemoryConfig   `yaml:"memory"`
	Chains  []ChainConfig  `yaml:"chains"`
	Stats   StatsConfig    `yaml:"stats"`
	Output  OutputConfig   `yaml:"output"`
	Metrics MetricsConfig  `yaml:"metrics"`

	// Strict promotes a dangling reference (edge pointing at a node id
	// never materialized) from a counted diagnostic to a fatal error
	// after the merge completes.
	Strict bool `yaml:"strict"`
}

// SourceConfig names one logical source: a pair of KGX files plus a
// priority rank. Lower rank wins ties in node dedup.
type SourceConfig struct {
	Name      string `yaml:"name"`
	Rank      int    `yaml:"rank"`
	NodesPath string `yaml:"nodes_path"`
	EdgesPath string `yaml:"edges_path"`
}

// PrefixPair names a (subject_prefix, object_prefix) pair, used both for
// fan-out exemptions and hard pruning.
type PrefixPair struct {
	SubjectPrefix string `yaml:"subject_prefix"`
	ObjectPrefix  string `yaml:"object_prefix"`
}

// DedupConfig configures the Priority Deduplicator.
type DedupConfig struct {
	// PredicatePriority overrides the default predicate-rank table. Rank
	// is the slice index + 1; an entry may carry several pipe-separated
	// predicates sharing one rank. Predicates absent from the list fall
	// into the implicit last "all others" rank, broken by insertion
	// order.
	PredicatePriority []string `yaml:"predicate_priority"`

	// FanoutExemptPairs extends the default exempt set
	// {(NCBITaxon,CHEBI), (RHEA,CHEBI)}.
	FanoutExemptPairs []PrefixPair `yaml:"fanout_exempt_pairs"`

	// PrunedPairs extends the default pruned set {(UniprotKB,NCBITaxon)}.
	PrunedPairs []PrefixPair `yaml:"pruned_pairs"`

	// PreserveInsertionOrder opts out of the default lexicographic sort
	// for multi-valued node fields.
	PreserveInsertionOrder bool `yaml:"preserve_insertion_order"`

	// PartitionCount is the number of hash buckets the partitioning
	// stage fans out to.
	PartitionCount int `yaml:"partition_count"`
}

// CanonConfig configures the Canonicalizer.
type CanonConfig struct {
	PrefixMap   map[string]string `yaml:"prefix_map"`
	CategoryMap map[string]string `yaml:"category_map"`
}

// MemoryConfig bounds the engine's resident working set.
type MemoryConfig struct {
	PartitionBytes int64  `yaml:"partition_bytes"`
	SpillDir       string `yaml:"spill_dir"`
}

// ChainHop is one hash-join step of a chain specification. The first
// hop of a chain has no AnchorEnd (it seeds the join); every subsequent
// hop's AnchorEnd names which of its own endpoints must equal the
// running join key carried from the previous hop.
type ChainHop struct {
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
	ObjectPrefix  string `yaml:"object_prefix,omitempty"`
	Predicate     string `yaml:"predicate,omitempty"`

	// AnchorEnd is "subject" or "object"; empty only for the first hop.
	AnchorEnd string `yaml:"anchor_end,omitempty"`
	// CarryEnd is "subject" or "object": the endpoint of this hop that
	// becomes the running join key for the next hop (or the final right
	// output column on the last hop).
	CarryEnd string `yaml:"carry_end"`
}

// ChainConfig declares one derived relation.
type ChainConfig struct {
	Name string `yaml:"name"`

	// LeftEnd names which endpoint of Hops[0] is the chain's fixed left
	// output column ("subject" or "object"); the opposite endpoint seeds
	// the running join key for Hops[1].
	LeftEnd    string `yaml:"left_end"`
	LeftLabel  string `yaml:"left_label"`
	RightLabel string `yaml:"right_label"`

	Hops []ChainHop `yaml:"hops"`
}

// StatsConfig configures the facet columns the Statistics Emitter reports.
type StatsConfig struct {
	NodeFacets []string `yaml:"node_facets"`
	EdgeFacets []string `yaml:"edge_facets"`
}

// OutputConfig names the merged-artifact output paths.
type OutputConfig struct {
	Dir             string `yaml:"dir"`
	NodeFile        string `yaml:"node_file"`
	EdgeFile        string `yaml:"edge_file"`
	StatsFile       string `yaml:"stats_file"`
	ChainFilePrefix string `yaml:"chain_file_prefix"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}
