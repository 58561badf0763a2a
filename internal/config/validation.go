package config

import (
	"fmt"

	"kgmerge/pkg/errors"
	"kgmerge/pkg/types"
)

// ConfigValidator accumulates every validation failure instead of
// stopping at the first, so an operator fixing a config file sees the
// whole list in one run.
type ConfigValidator struct {
	config *types.Config
	errs   []error
}

// ValidateConfig performs comprehensive configuration validation and
// returns every failure found.
func ValidateConfig(cfg *types.Config) []error {
	v := &ConfigValidator{config: cfg}
	v.validateSources()
	v.validateDedup()
	v.validateMemory()
	v.validateChains()
	v.validateOutput()
	return v.errs
}

func (v *ConfigValidator) addError(operation, message string) {
	v.errs = append(v.errs, errors.New(errors.CodeConfigInvalid, "config", operation, message))
}

func (v *ConfigValidator) validateSources() {
	if len(v.config.Sources) == 0 {
		v.addError("validate_sources", "at least one source must be configured")
		return
	}

	seenNames := map[string]bool{}
	for _, s := range v.config.Sources {
		if s.NodesPath == "" && s.EdgesPath == "" {
			v.addError("validate_sources", fmt.Sprintf("source %q has neither nodes_path nor edges_path", s.Name))
		}
		if seenNames[s.Name] {
			v.addError("validate_sources", fmt.Sprintf("duplicate source name %q", s.Name))
		}
		seenNames[s.Name] = true
	}
}

func (v *ConfigValidator) validateDedup() {
	if v.config.Dedup.PartitionCount <= 0 {
		v.addError("validate_dedup", "dedup.partition_count must be positive")
	}
	for _, p := range v.config.Dedup.PrunedPairs {
		if p.SubjectPrefix == "" || p.ObjectPrefix == "" {
			v.addError("validate_dedup", "pruned_pairs entries must set both subject_prefix and object_prefix")
		}
	}
	for _, p := range v.config.Dedup.FanoutExemptPairs {
		if p.SubjectPrefix == "" || p.ObjectPrefix == "" {
			v.addError("validate_dedup", "fanout_exempt_pairs entries must set both subject_prefix and object_prefix")
		}
	}
}

func (v *ConfigValidator) validateMemory() {
	if v.config.Memory.PartitionBytes <= 0 {
		v.addError("validate_memory", "memory.partition_bytes must be positive")
	}
	if v.config.Memory.SpillDir == "" {
		v.addError("validate_memory", "memory.spill_dir must not be empty")
	}
}

func (v *ConfigValidator) validateChains() {
	names := map[string]bool{}
	for _, c := range v.config.Chains {
		if c.Name == "" {
			v.addError("validate_chains", "chain must have a name")
			continue
		}
		if names[c.Name] {
			v.addError("validate_chains", fmt.Sprintf("duplicate chain name %q", c.Name))
		}
		names[c.Name] = true

		if len(c.Hops) == 0 {
			v.addError("validate_chains", fmt.Sprintf("chain %q must have at least one hop", c.Name))
			continue
		}
		if c.LeftEnd != "subject" && c.LeftEnd != "object" {
			v.addError("validate_chains", fmt.Sprintf("chain %q: left_end must be \"subject\" or \"object\"", c.Name))
		}
		for i, h := range c.Hops {
			if i > 0 && h.AnchorEnd != "subject" && h.AnchorEnd != "object" {
				v.addError("validate_chains", fmt.Sprintf("chain %q hop %d: anchor_end must be \"subject\" or \"object\"", c.Name, i))
			}
			if h.CarryEnd != "subject" && h.CarryEnd != "object" {
				v.addError("validate_chains", fmt.Sprintf("chain %q hop %d: carry_end must be \"subject\" or \"object\"", c.Name, i))
			}
		}
	}
}

func (v *ConfigValidator) validateOutput() {
	if v.config.Output.Dir == "" {
		v.addError("validate_output", "output.dir must not be empty")
	}
	if v.config.Output.NodeFile == "" {
		v.addError("validate_output", "output.node_file must not be empty")
	}
	if v.config.Output.EdgeFile == "" {
		v.addError("validate_output", "output.edge_file must not be empty")
	}
}
