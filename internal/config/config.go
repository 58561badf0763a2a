// Package config loads and validates the declarative YAML configuration
// that drives a merge run.
package config

import (
	"fmt"
	"os"
	"strconv"

	"kgmerge/pkg/types"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// LoadConfig reads the YAML configuration at path, applies defaults
// and environment overrides, and validates the result.
func LoadConfig(path string, logger *logrus.Logger) (*types.Config, error) {
	cfg := &types.Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		logger.WithField("path", path).Info("loaded configuration file")
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if errs := ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w", joinErrors(errs))
	}

	logger.Info("configuration validation passed")
	return cfg, nil
}

// applyDefaults fills in unconfigured fields with the engine's defaults.
// A scalar or list field is left alone whenever the caller already set
// it; only the zero value is overwritten. The prefix and category maps
// and the fan-out-exempt and pruned pair lists are instead extended with
// their defaults.
func applyDefaults(cfg *types.Config) {
	for i := range cfg.Sources {
		if cfg.Sources[i].Name == "" {
			cfg.Sources[i].Name = fmt.Sprintf("source-%d", i)
		}
	}

	// capable_of and METPO:2000103 share rank 3; a pipe-joined entry
	// keeps them on one rung (see DedupConfig.PredicatePriority).
	if len(cfg.Dedup.PredicatePriority) == 0 {
		cfg.Dedup.PredicatePriority = []string{
			"biolink:has_chemical_role",
			"biolink:subclass_of",
			"biolink:capable_of|METPO:2000103",
			"biolink:can_be_carried_out_by",
			"biolink:superclass_of",
		}
	}
	// Configured exempt and pruned pairs extend the default sets; a
	// pair listed twice matches the same edges either way.
	cfg.Dedup.FanoutExemptPairs = append(cfg.Dedup.FanoutExemptPairs,
		types.PrefixPair{SubjectPrefix: "NCBITaxon", ObjectPrefix: "CHEBI"},
		types.PrefixPair{SubjectPrefix: "RHEA", ObjectPrefix: "CHEBI"},
	)
	cfg.Dedup.PrunedPairs = append(cfg.Dedup.PrunedPairs,
		types.PrefixPair{SubjectPrefix: "UniprotKB", ObjectPrefix: "NCBITaxon"},
	)
	if cfg.Dedup.PartitionCount == 0 {
		cfg.Dedup.PartitionCount = 64
	}

	if cfg.Canon.PrefixMap == nil {
		cfg.Canon.PrefixMap = map[string]string{}
	}
	defaultPrefixMap(cfg.Canon.PrefixMap)
	if cfg.Canon.CategoryMap == nil {
		cfg.Canon.CategoryMap = map[string]string{}
	}
	defaultCategoryMap(cfg.Canon.CategoryMap)

	if cfg.Memory.PartitionBytes == 0 {
		cfg.Memory.PartitionBytes = 512 * 1024 * 1024
	}
	if cfg.Memory.SpillDir == "" {
		cfg.Memory.SpillDir = "./spill"
	}

	if len(cfg.Stats.NodeFacets) == 0 {
		cfg.Stats.NodeFacets = []string{"category", "provided_by"}
	}
	if len(cfg.Stats.EdgeFacets) == 0 {
		cfg.Stats.EdgeFacets = []string{"predicate", "primary_knowledge_source"}
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "./merged"
	}
	if cfg.Output.NodeFile == "" {
		cfg.Output.NodeFile = "nodes.tsv"
	}
	if cfg.Output.EdgeFile == "" {
		cfg.Output.EdgeFile = "edges.tsv"
	}
	if cfg.Output.StatsFile == "" {
		cfg.Output.StatsFile = "merged_graph_stats.yaml"
	}
	if cfg.Output.ChainFilePrefix == "" {
		cfg.Output.ChainFilePrefix = "chain"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// defaultPrefixMap installs the legacy-prefix rewrite table, without
// overwriting any entry the caller already configured.
func defaultPrefixMap(m map[string]string) {
	defaults := map[string]string{
		"medium:":     "mediadive.medium:",
		"solution:":   "mediadive.solution:",
		"ingredient:": "mediadive.ingredient:",
		"strain:":     "kgmicrobe.strain:",
		"ec:":         "EC:",
		"eccode:":     "EC:",
	}
	for k, v := range defaults {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
}

// defaultCategoryMap installs the deprecated-category rewrite table.
func defaultCategoryMap(m map[string]string) {
	defaults := map[string]string{
		"biolink:ChemicalSubstance": "biolink:ChemicalEntity",
	}
	for k, v := range defaults {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
}

// applyEnvironmentOverrides lets a small set of operational knobs be set
// without editing the YAML file.
func applyEnvironmentOverrides(cfg *types.Config) {
	if v := os.Getenv("KGMERGE_SPILL_DIR"); v != "" {
		cfg.Memory.SpillDir = v
	}
	if v := os.Getenv("KGMERGE_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("KGMERGE_PARTITION_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Memory.PartitionBytes = n
		}
	}
	if v := os.Getenv("KGMERGE_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Strict = b
		}
	}
}

func joinErrors(errs []error) error {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return fmt.Errorf("%s", msg)
}
