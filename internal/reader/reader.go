// Package reader implements the Tabular Source Reader: it presents each
// logical source as an iterator of union-schema rows, hiding file
// count, compression, column order, and missing columns from every
// downstream component.
package reader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"kgmerge/internal/diagnostics"
	"kgmerge/pkg/errors"
	"kgmerge/pkg/types"

	"github.com/klauspost/compress/gzip"
)

// SourceDescriptor names a logical source: one file path (plain, gzip, or
// tar+gzip), a rank, and whether it carries nodes or edges.
type SourceDescriptor struct {
	SourceName string
	SourceRank int
	Path       string
	IsEdge     bool
}

// openFunc abstracts os.Open so tests can substitute an in-memory
// filesystem without touching disk.
type openFunc func(string) (io.ReadCloser, error)

func defaultOpen(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Reader streams rows for one source descriptor.
type Reader struct {
	desc SourceDescriptor
	open openFunc
	sink *diagnostics.Sink

	requiredColumns []string
	knownColumns    map[string]bool

	unionCols []string
	parts     []part
}

// part is one constituent file within a source (the source file itself
// for plain/gzip sources, or one tar entry for a tar+gzip source).
type part struct {
	name string // diagnostic label: file path, or "archive.tar.gz:entry"
	open func() (io.ReadCloser, error)
}

// Open prepares a Reader for desc: it performs the required header scan
// (to validate required columns and to build the union schema across
// every constituent file) and returns an iterator ready to stream rows.
//
// A schema error (a required column missing from every header) is fatal
// for the source and returned here, before any row is yielded.
func Open(desc SourceDescriptor, sink *diagnostics.Sink) (*Reader, error) {
	return open(desc, sink, defaultOpen)
}

func open(desc SourceDescriptor, sink *diagnostics.Sink, openFn openFunc) (*Reader, error) {
	r := &Reader{desc: desc, open: openFn, sink: sink}
	if desc.IsEdge {
		r.requiredColumns = []string{"subject", "predicate", "object"}
		r.knownColumns = columnSet(types.EdgeColumns)
	} else {
		r.requiredColumns = []string{"id", "category"}
		r.knownColumns = columnSet(types.NodeColumns)
	}

	parts, err := r.discoverParts()
	if err != nil {
		return nil, errors.NewFatal(errors.CodeSourceIOError, "reader", "discover_parts", err.Error()).
			WithMetadata("source", desc.SourceName).WithMetadata("path", desc.Path)
	}
	r.parts = parts

	unionCols, err := r.scanHeaders()
	if err != nil {
		return nil, err
	}
	r.unionCols = unionCols
	return r, nil
}

func columnSet(cols []string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// discoverParts resolves desc.Path into its constituent files; a
// tarball yields its entries in lexicographic path order so downstream
// row order is deterministic.
func (r *Reader) discoverParts() ([]part, error) {
	switch classify(r.desc.Path) {
	case kindTarGzip:
		f, err := r.open(r.desc.Path)
		if err != nil {
			return nil, err
		}
		names, err := tarEntryNames(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		parts := make([]part, 0, len(names))
		for _, name := range names {
			name := name
			parts = append(parts, part{
				name: r.desc.Path + ":" + name,
				open: func() (io.ReadCloser, error) {
					return openTarEntry(r.desc.Path, name, r.open)
				},
			})
		}
		return parts, nil
	case kindGzip:
		return []part{{
			name: r.desc.Path,
			open: func() (io.ReadCloser, error) {
				f, err := r.open(r.desc.Path)
				if err != nil {
					return nil, err
				}
				gz, err := gzip.NewReader(f)
				if err != nil {
					f.Close()
					return nil, err
				}
				return &gzipReadCloser{gz: gz, f: f}, nil
			},
		}}, nil
	default:
		return []part{{
			name: r.desc.Path,
			open: func() (io.ReadCloser, error) {
				return r.open(r.desc.Path)
			},
		}}, nil
	}
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipReadCloser) Close() error {
	g.gz.Close()
	return g.f.Close()
}

// scanHeaders reads only the header line of every part, validates that
// required columns are present in at least the union, and builds the
// ordered union schema across every file of the source.
func (r *Reader) scanHeaders() ([]string, error) {
	seen := map[string]bool{}
	var union []string

	for _, p := range r.parts {
		rc, err := p.open()
		if err != nil {
			return nil, errors.NewFatal(errors.CodeSourceIOError, "reader", "scan_header", err.Error()).
				WithMetadata("part", p.name)
		}
		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
		if !scanner.Scan() {
			rc.Close()
			continue // a part with no header is an empty file; skip silently
		}
		header := strings.Split(scanner.Text(), "\t")
		rc.Close()

		for _, col := range header {
			if !seen[col] {
				seen[col] = true
				union = append(union, col)
			}
		}
	}

	for _, req := range r.requiredColumns {
		if !seen[req] {
			return nil, errors.NewFatal(errors.CodeSchemaError, "reader", "scan_header",
				fmt.Sprintf("required column %q missing from source %q", req, r.desc.SourceName)).
				WithMetadata("source", r.desc.SourceName)
		}
	}
	return union, nil
}

// RowIterator streams rows across every part of a source after the
// header scan has completed.
type RowIterator struct {
	r        *Reader
	partIdx  int
	rc       io.ReadCloser
	scanner  *bufio.Scanner
	header   []string
	line     int
	partName string
	openErr  error
}

// Rows returns a fresh iterator over this source's rows, in file order
// then line order, skipping each part's header line.
func (r *Reader) Rows() *RowIterator {
	return &RowIterator{r: r, partIdx: -1}
}

// Next returns the next row, or (nil, nil) at end of stream. Parse
// errors are recorded to the diagnostic sink and the iterator advances
// to the next row, never returning a parse error to the caller. A read
// error on the underlying file is fatal and returned.
func (it *RowIterator) Next() (*types.RawRow, error) {
	for {
		if it.scanner == nil {
			if !it.advancePart() {
				return nil, it.openErr
			}
			continue
		}

		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				return nil, errors.NewFatal(errors.CodeSourceIOError, "reader", "read_row", err.Error()).
					WithMetadata("part", it.partName)
			}
			it.rc.Close()
			it.scanner = nil
			continue
		}
		it.line++

		row, parseErr := it.parseLine(it.scanner.Text())
		if parseErr != nil {
			it.r.sink.Record(diagnostics.Entry{
				Category:   diagnostics.CategoryDroppedParse,
				SourceName: it.r.desc.SourceName,
				FilePath:   it.partName,
				Line:       it.line,
				Message:    parseErr.Error(),
			})
			continue
		}
		return row, nil
	}
}

func (it *RowIterator) advancePart() bool {
	it.partIdx++
	if it.partIdx >= len(it.r.parts) {
		return false
	}
	p := it.r.parts[it.partIdx]
	rc, err := p.open()
	if err != nil {
		it.openErr = errors.NewFatal(errors.CodeSourceIOError, "reader", "open_part", err.Error()).
			WithMetadata("part", p.name)
		return false
	}
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		rc.Close()
		return it.advancePart()
	}
	it.header = strings.Split(scanner.Text(), "\t")
	it.rc = rc
	it.scanner = scanner
	it.partName = p.name
	it.line = 1
	return true
}

// parseLine builds a union-schema row from one tab-separated line,
// filling absent columns with the empty string and preserving unknown
// columns verbatim. There is no quoting: a line with more fields than
// the part's header means an embedded tab, reported as a parse error.
func (it *RowIterator) parseLine(line string) (*types.RawRow, error) {
	fields := strings.Split(line, "\t")
	if len(fields) > len(it.header) {
		return nil, fmt.Errorf("line has %d fields, header has %d (embedded tab?)", len(fields), len(it.header))
	}

	values := make(map[string]string, len(it.r.unionCols))
	for _, col := range it.r.unionCols {
		values[col] = ""
	}
	for i, col := range it.header {
		if i < len(fields) {
			values[col] = fields[i]
		}
	}

	return &types.RawRow{
		Meta: types.RowMeta{
			SourceName: it.r.desc.SourceName,
			SourceRank: it.r.desc.SourceRank,
			FilePath:   it.partName,
			Line:       it.line,
		},
		Fields: values,
		IsEdge: it.r.desc.IsEdge,
	}, nil
}
