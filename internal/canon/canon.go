// Package canon implements the Canonicalizer: a pure, deterministic
// normalization pass applied to every row before it reaches the
// Priority Deduplicator, so that two logically identical rows with
// different spellings compare equal.
//
// The prefix and category rewrite tables are carried as an immutable
// per-run object built once at engine startup, so alternate tables can
// be injected in tests without touching package state.
package canon

import (
	"sort"
	"strings"

	"kgmerge/internal/diagnostics"
	"kgmerge/pkg/types"
)

// Canonicalizer holds the prefix and category rewrite tables for one
// engine run.
type Canonicalizer struct {
	// prefixRules is ordered longest-prefix-first (lexicographic within a
	// length) so rewriting is deterministic even when configured prefixes
	// overlap.
	prefixRules []prefixRule
	categoryMap map[string]string
}

type prefixRule struct {
	old  string
	repl string
}

// New builds a Canonicalizer from the resolved configuration maps
// (already merged with defaults by internal/config).
func New(prefixMap, categoryMap map[string]string) *Canonicalizer {
	rules := make([]prefixRule, 0, len(prefixMap))
	for old, repl := range prefixMap {
		rules = append(rules, prefixRule{old: old, repl: repl})
	}
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].old) != len(rules[j].old) {
			return len(rules[i].old) > len(rules[j].old)
		}
		return rules[i].old < rules[j].old
	})
	return &Canonicalizer{prefixRules: rules, categoryMap: categoryMap}
}

const (
	intenzMarker       = "intenz"
	ecQueryMarker      = "ec="
	canonicalECIRIBase = "https://enzyme.expasy.org/EC/"

	categoryMolecularActivity = "biolink:MolecularActivity"
	categoryMedia             = "METPO:1004005"
)

var mediaPrefixes = []string{
	"mediadive.medium:",
	"mediadive.solution:",
	"mediadive.ingredient:",
}

// CanonNode applies the node canonicalization pipeline to a raw row and
// returns the canonical Node. ok is false when the row was dropped by
// validation (empty id), in which case the drop has already been
// recorded to sink.
func (c *Canonicalizer) CanonNode(row *types.RawRow, sink *diagnostics.Sink) (*types.Node, bool) {
	id := c.rewriteID(strings.TrimSpace(row.Fields["id"]))
	if id == "" {
		sink.Record(diagnostics.Entry{
			Category:   diagnostics.CategoryDroppedInvalid,
			SourceName: row.Meta.SourceName,
			FilePath:   row.Meta.FilePath,
			Line:       row.Meta.Line,
			Message:    "node row has empty id after canonicalization",
		})
		return nil, false
	}

	category := c.canonicalizeCategory(id, strings.TrimSpace(row.Fields["category"]))

	node := &types.Node{
		ID:          id,
		Category:    category,
		Name:        strings.TrimSpace(row.Fields["name"]),
		Description: strings.TrimSpace(row.Fields["description"]),
		Xref:        splitTrimmed(row.Fields["xref"]),
		ProvidedBy:  strings.TrimSpace(row.Fields["provided_by"]),
		Synonym:     splitTrimmed(row.Fields["synonym"]),
		IRI:         strings.TrimSpace(row.Fields["iri"]),
		Deprecated:  strings.TrimSpace(row.Fields["deprecated"]),
		Subsets:     splitTrimmed(row.Fields["subsets"]),
		Extra:       extraColumns(row.Fields, types.NodeColumns),
		SourceName:  row.Meta.SourceName,
		SourceRank:  row.Meta.SourceRank,
	}

	node.IRI = c.rewriteECIRI(node.ID, node.IRI)

	return node, true
}

// CanonEdge applies the edge canonicalization pipeline to a raw row and
// returns the canonical Edge.
func (c *Canonicalizer) CanonEdge(row *types.RawRow, sink *diagnostics.Sink) (*types.Edge, bool) {
	subject := c.rewriteID(strings.TrimSpace(row.Fields["subject"]))
	object := c.rewriteID(strings.TrimSpace(row.Fields["object"]))
	predicate := strings.TrimSpace(row.Fields["predicate"])

	if subject == "" || object == "" || predicate == "" {
		sink.Record(diagnostics.Entry{
			Category:   diagnostics.CategoryDroppedInvalid,
			SourceName: row.Meta.SourceName,
			FilePath:   row.Meta.FilePath,
			Line:       row.Meta.Line,
			Message:    "edge row missing subject/object/predicate after canonicalization",
		})
		return nil, false
	}

	edge := &types.Edge{
		Subject:                subject,
		Object:                 object,
		Predicate:              predicate,
		Relation:               strings.TrimSpace(row.Fields["relation"]),
		PrimaryKnowledgeSource: strings.TrimSpace(row.Fields["primary_knowledge_source"]),
		KnowledgeSource:        strings.TrimSpace(row.Fields["knowledge_source"]),
		Extra:                  extraColumns(row.Fields, types.EdgeColumns),
		SourceName:             row.Meta.SourceName,
		SourceRank:             row.Meta.SourceRank,
	}
	return edge, true
}

// rewriteID applies the legacy-prefix rewrite table, and falls back to
// extracting an EC code from a legacy IntEnz query URL when no
// configured prefix matches.
func (c *Canonicalizer) rewriteID(id string) string {
	for _, rule := range c.prefixRules {
		if strings.HasPrefix(id, rule.old) {
			return rule.repl + strings.TrimPrefix(id, rule.old)
		}
	}
	if code, ok := extractECCode(id); ok {
		return "EC:" + code
	}
	return id
}

// extractECCode pulls a dotted EC code out of a legacy IntEnz query
// string such as ".../intenz/query?cmd=SearchEC&ec=1.1.1.1".
func extractECCode(s string) (string, bool) {
	lower := strings.ToLower(s)
	if !strings.Contains(lower, intenzMarker) {
		return "", false
	}
	idx := strings.Index(lower, ecQueryMarker)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(ecQueryMarker):]
	if amp := strings.IndexByte(rest, '&'); amp >= 0 {
		rest = rest[:amp]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}

// canonicalizeCategory rewrites deprecated category names and applies
// the EC and media adoption rules.
func (c *Canonicalizer) canonicalizeCategory(id, category string) string {
	if mapped, ok := c.categoryMap[category]; ok {
		category = mapped
	}
	if strings.HasPrefix(id, "EC:") {
		return categoryMolecularActivity
	}
	for _, prefix := range mediaPrefixes {
		if strings.HasPrefix(id, prefix) {
			return categoryMedia
		}
	}
	return category
}

// rewriteECIRI rewrites a legacy IntEnz IRI to its canonical ExPASy
// form for EC nodes.
func (c *Canonicalizer) rewriteECIRI(id, iri string) string {
	if !strings.HasPrefix(id, "EC:") {
		return iri
	}
	if iri != "" && !strings.Contains(strings.ToLower(iri), intenzMarker) {
		return iri
	}
	return canonicalECIRIBase + strings.TrimPrefix(id, "EC:")
}

// splitTrimmed splits a pipe-separated multi-valued field and trims each
// element, dropping empties.
func splitTrimmed(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// extraColumns preserves any column outside the known universe verbatim
// but trimmed; such columns are carried through uninterpreted.
func extraColumns(fields map[string]string, known []string) map[string]string {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	var extra map[string]string
	for k, v := range fields {
		if knownSet[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[k] = strings.TrimSpace(v)
	}
	return extra
}
