// Package types provides the core record types that flow through the
// merge engine: raw tabular rows, canonicalized nodes and edges, and the
// source/column metadata needed to reconstruct diagnostics.
package types

import "strings"

// Known column universes. TSR unions columns across files of the same
// source and fills absent columns with the empty string; unknown columns
// are preserved verbatim but never interpreted beyond this set.
var (
	NodeColumns = []string{
		"id", "category", "name", "description", "xref", "provided_by",
		"synonym", "iri", "deprecated", "subsets",
	}
	EdgeColumns = []string{
		"subject", "predicate", "object", "relation",
		"primary_knowledge_source", "knowledge_source",
	}
)

// RowMeta carries the diagnostic context a parse error needs: which file
// and line produced the row, and which logical source and rank it came
// from.
type RowMeta struct {
	SourceName string
	SourceRank int
	FilePath   string
	Line       int
}

// RawRow is a union-schema row as yielded by the Tabular Source Reader,
// before canonicalization. Fields holds every column in the source's
// union schema; absent columns are present with an empty value.
type RawRow struct {
	Meta    RowMeta
	Fields  map[string]string
	IsEdge  bool
}

// Node is a canonicalized node record.
type Node struct {
	ID          string
	Category    string
	Name        string
	Description string
	Xref        []string
	ProvidedBy  string
	Synonym     []string
	IRI         string
	Deprecated  string
	Subsets     []string
	Extra       map[string]string

	SourceName string
	SourceRank int
}

// Edge is a canonicalized edge record.
type Edge struct {
	Subject                string
	Object                 string
	Predicate              string
	Relation               string
	PrimaryKnowledgeSource string
	KnowledgeSource        string
	Extra                  map[string]string

	SourceName string
	SourceRank int
}

// NodeKey is the dedup primary key for a node: its id.
func (n *Node) NodeKey() string {
	return n.ID
}

// EdgeKey is an edge's (subject, object) pair. The deduplicator keys
// most edges on this pair alone, with the predicate deciding priority
// among rows that share it; for fan-out-exempt prefix pairs its key also
// includes the predicate (see edgeDedupKey in internal/dedup).
type EdgeKey struct {
	Subject string
	Object  string
}

// Key returns the edge's dedup key.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{Subject: e.Subject, Object: e.Object}
}

// CURIEPrefix returns the PREFIX part of a PREFIX:LOCAL identifier, or
// the whole string when it carries no colon. Prefix comparisons across
// the engine (pruning, fan-out exemption, chain hop filters) match on
// this segment, so "EC" never covers an "ECO:..." id.
func CURIEPrefix(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[:i]
	}
	return id
}
