package reader

import (
	"archive/tar"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// kind classifies how a source file is packaged on disk.
type kind int

const (
	kindPlain kind = iota
	kindGzip
	kindTarGzip
)

// classify inspects a path's suffix to decide its compression kind.
func classify(path string) kind {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return kindTarGzip
	case strings.HasSuffix(lower, ".gz"):
		return kindGzip
	default:
		return kindPlain
	}
}

// tarEntryNames lists the regular-file entry names of a tar+gzip archive
// in lexicographic order, so rows from constituent files are yielded
// deterministically.
func tarEntryNames(r io.Reader) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// openTarEntry re-scans the archive from the start and returns a reader
// positioned at the named entry's content. Archives are read from local
// disk for a batch job, so a second linear scan per entry is cheap
// relative to the row volumes involved.
func openTarEntry(path, name string, open func(string) (io.ReadCloser, error)) (io.ReadCloser, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			gz.Close()
			f.Close()
			return nil, io.EOF
		}
		if err != nil {
			gz.Close()
			f.Close()
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg && hdr.Name == name {
			return &tarEntryReader{tr: tr, gz: gz, f: f}, nil
		}
	}
}

// tarEntryReader closes the whole chain (tar → gzip → file) once the
// caller is done with one entry's content.
type tarEntryReader struct {
	tr *tar.Reader
	gz *gzip.Reader
	f  io.ReadCloser
}

func (t *tarEntryReader) Read(p []byte) (int, error) { return t.tr.Read(p) }
func (t *tarEntryReader) Close() error {
	t.gz.Close()
	return t.f.Close()
}
