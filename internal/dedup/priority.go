package dedup

import (
	"strings"

	"kgmerge/pkg/types"
)

// betterNode reports whether candidate should replace current as a node
// key's winner, per the priority tuple: source rank (lower wins), then
// name presence, description presence, xref count (more wins), and
// finally source name lexicographically as a deterministic last resort.
// A tie at every level leaves the current winner in place, which is
// what makes the merge first-occurrence stable.
func betterNode(candidate, current *types.Node) bool {
	if candidate.SourceRank != current.SourceRank {
		return candidate.SourceRank < current.SourceRank
	}
	if ch, cu := candidate.Name != "", current.Name != ""; ch != cu {
		return ch
	}
	if ch, cu := candidate.Description != "", current.Description != ""; ch != cu {
		return ch
	}
	if len(candidate.Xref) != len(current.Xref) {
		return len(candidate.Xref) > len(current.Xref)
	}
	if candidate.SourceName != current.SourceName {
		return candidate.SourceName < current.SourceName
	}
	return false
}

// predicateRank implements the configured predicate-rank table: rank is
// the slice index + 1. An entry may name several pipe-separated
// predicates sharing one rank (the default table puts
// biolink:capable_of and METPO:2000103 on the same rung). A predicate
// absent from the table shares the implicit last rank ("all others"),
// so ties among unranked predicates fall back to first occurrence.
func predicateRank(priority []string, predicate string) int {
	for i, entry := range priority {
		for _, p := range strings.Split(entry, "|") {
			if p == predicate {
				return i + 1
			}
		}
	}
	return len(priority) + 1
}

// betterEdge reports whether candidate should replace current as an edge
// key's winner. Equal rank, including the shared "all others" rank,
// leaves the current winner in place.
func betterEdge(priority []string, candidate, current *types.Edge) bool {
	return predicateRank(priority, candidate.Predicate) < predicateRank(priority, current.Predicate)
}

// matchesPrefixPair reports whether any of pairs covers (subject, object)
// by CURIE prefix.
func matchesPrefixPair(pairs []types.PrefixPair, subject, object string) bool {
	sp, op := types.CURIEPrefix(subject), types.CURIEPrefix(object)
	for _, p := range pairs {
		if sp == p.SubjectPrefix && op == p.ObjectPrefix {
			return true
		}
	}
	return false
}

// ShouldPrune reports whether edge matches one of the configured
// hard-pruned (subject_prefix, object_prefix) pairs and must never
// reach the partitioner at all (default {(UniprotKB,NCBITaxon)}).
func ShouldPrune(pruned []types.PrefixPair, edge *types.Edge) bool {
	return matchesPrefixPair(pruned, edge.Subject, edge.Object)
}

// edgeDedupKey returns the string the deduplicator partitions and
// merges an edge by. Fan-out-exempt (subject_prefix, object_prefix)
// pairs key on the full (subject, object, predicate) triple, so every
// distinct predicate between the pair survives independently; every
// other pair keys on (subject, object) alone, so only the single
// highest-priority predicate survives.
func edgeDedupKey(exempt []types.PrefixPair, edge *types.Edge) string {
	if matchesPrefixPair(exempt, edge.Subject, edge.Object) {
		return edge.Subject + "\x00" + edge.Object + "\x00" + edge.Predicate
	}
	return edge.Subject + "\x00" + edge.Object
}
