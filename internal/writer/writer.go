// Package writer implements the merged-artifact output side of the
// external file format: header-first, tab-separated, canonical column
// order, the mirror image of what internal/reader consumes on the way
// in.
package writer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kgmerge/internal/chain"
	"kgmerge/pkg/types"
)

// WriteNodes writes the merged node table to path: header line, then one
// tab-separated row per node in canonical column order, followed by any
// extra columns observed across the set (sorted for determinism).
func WriteNodes(path string, nodes []*types.Node) error {
	extraCols := unionExtraKeys(nodeExtraMaps(nodes))
	header := append(append([]string{}, types.NodeColumns...), extraCols...)

	return writeTSV(path, header, len(nodes), func(w *bufio.Writer, i int) error {
		n := nodes[i]
		fields := []string{
			n.ID, n.Category, n.Name, n.Description, joinPipe(n.Xref),
			n.ProvidedBy, joinPipe(n.Synonym), n.IRI, n.Deprecated, joinPipe(n.Subsets),
		}
		fields = append(fields, extraValues(n.Extra, extraCols)...)
		_, err := w.WriteString(strings.Join(fields, "\t") + "\n")
		return err
	})
}

// WriteEdges writes the merged edge table to path, mirroring WriteNodes
// for the edge schema.
func WriteEdges(path string, edges []*types.Edge) error {
	extraCols := unionExtraKeys(edgeExtraMaps(edges))
	header := append(append([]string{}, types.EdgeColumns...), extraCols...)

	return writeTSV(path, header, len(edges), func(w *bufio.Writer, i int) error {
		e := edges[i]
		fields := []string{
			e.Subject, e.Predicate, e.Object, e.Relation,
			e.PrimaryKnowledgeSource, e.KnowledgeSource,
		}
		fields = append(fields, extraValues(e.Extra, extraCols)...)
		_, err := w.WriteString(strings.Join(fields, "\t") + "\n")
		return err
	})
}

// WriteChainPairs writes one chain's distinct (left, right) pairs to
// path, using leftLabel/rightLabel as header column names. Each chain's
// output is written as one file; it is never split into shards.
func WriteChainPairs(path, leftLabel, rightLabel string, pairs []chain.Pair) error {
	if leftLabel == "" {
		leftLabel = "left"
	}
	if rightLabel == "" {
		rightLabel = "right"
	}
	header := []string{leftLabel, rightLabel}

	return writeTSV(path, header, len(pairs), func(w *bufio.Writer, i int) error {
		p := pairs[i]
		_, err := w.WriteString(p.Left + "\t" + p.Right + "\n")
		return err
	})
}

func writeTSV(path string, header []string, n int, writeRow func(w *bufio.Writer, i int) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.WriteString(strings.Join(header, "\t") + "\n"); err != nil {
		return fmt.Errorf("writing header to %s: %w", path, err)
	}
	for i := 0; i < n; i++ {
		if err := writeRow(w, i); err != nil {
			return fmt.Errorf("writing row %d to %s: %w", i, path, err)
		}
	}
	return w.Flush()
}


func joinPipe(values []string) string {
	return strings.Join(values, "|")
}

func nodeExtraMaps(nodes []*types.Node) []map[string]string {
	out := make([]map[string]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Extra
	}
	return out
}

func edgeExtraMaps(edges []*types.Edge) []map[string]string {
	out := make([]map[string]string, len(edges))
	for i, e := range edges {
		out[i] = e.Extra
	}
	return out
}

func unionExtraKeys(maps []map[string]string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func extraValues(m map[string]string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = m[c]
	}
	return out
}
