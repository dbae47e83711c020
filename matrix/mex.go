package matrix

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// File names inside a MEX directory. Each may carry a ".gz" suffix.
const (
	MEXMatrix   = "matrix.mtx"
	MEXFeatures = "features.tsv"
	MEXBarcodes = "barcodes.tsv"

	mexHeader = "%%MatrixMarket matrix coordinate integer general"
)

// Open opens path for reading, transparently decompressing gzip input.
// The returned close function must be called when done.
func Open(ctx context.Context, path string) (r io.Reader, close func() error, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	r = f.Reader(ctx)
	if fileio.DetermineType(path) != fileio.Gzip {
		return r, func() error { return f.Close(ctx) }, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		_ = f.Close(ctx)
		return nil, nil, errors.Wrapf(err, "gzip %s", path)
	}
	return gz, func() error {
		err := gz.Close()
		if cerr := f.Close(ctx); err == nil {
			err = cerr
		}
		return err
	}, nil
}

// findMEXFile returns dir/name.gz if it exists, else dir/name.
func findMEXFile(ctx context.Context, dir, name string) string {
	gz := file.Join(dir, name+".gz")
	if _, err := file.Stat(ctx, gz); err == nil {
		return gz
	}
	return file.Join(dir, name)
}

func scanLines(ctx context.Context, path string, fn func(lineno int, line string) error) (err error) {
	r, closer, err := Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if err = fn(lineno, line); err != nil {
			return errors.Wrapf(err, "%s:%d", path, lineno)
		}
	}
	return errors.Wrapf(scanner.Err(), "couldn't read %s", path)
}

func parseFeature(line string) (Feature, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 2 {
		return Feature{}, errors.Errorf("malformed feature line %q", line)
	}
	f := Feature{ID: cols[0], Name: cols[1], Type: GeneExpression}
	if len(cols) > 2 && cols[2] != "" {
		f.Type = cols[2]
	}
	if len(cols) > 3 {
		f.Genome = cols[3]
	}
	if len(cols) > 4 {
		target, err := strconv.ParseBool(cols[4])
		if err != nil {
			return Feature{}, errors.Wrapf(err, "target column of %q", line)
		}
		f.Target = target
	}
	return f, nil
}

// ReadMEX reads a matrix stored as a MEX directory: matrix.mtx (features ×
// barcodes, MatrixMarket coordinate format), features.tsv (id, name, type,
// and optionally genome and target flag) and barcodes.tsv.
func ReadMEX(ctx context.Context, dir string) (*CountMatrix, error) {
	var features []Feature
	err := scanLines(ctx, findMEXFile(ctx, dir, MEXFeatures), func(_ int, line string) error {
		f, err := parseFeature(line)
		features = append(features, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	var barcodes []string
	err = scanLines(ctx, findMEXFile(ctx, dir, MEXBarcodes), func(_ int, line string) error {
		barcodes = append(barcodes, strings.SplitN(line, "\t", 2)[0])
		return nil
	})
	if err != nil {
		return nil, err
	}

	var (
		entries  []Entry
		haveDims bool
	)
	err = scanLines(ctx, findMEXFile(ctx, dir, MEXMatrix), func(_ int, line string) error {
		if strings.HasPrefix(line, "%") {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return errors.Errorf("malformed matrix line %q", line)
		}
		var v [3]int64
		for i, s := range fields {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "matrix line %q", line)
			}
			v[i] = n
		}
		if !haveDims {
			haveDims = true
			if int(v[0]) != len(features) || int(v[1]) != len(barcodes) {
				return errors.Errorf("matrix is %dx%d, but there are %d features and %d barcodes",
					v[0], v[1], len(features), len(barcodes))
			}
			entries = make([]Entry, 0, v[2])
			return nil
		}
		entries = append(entries, Entry{Feature: int(v[0]) - 1, Barcode: int(v[1]) - 1, Count: v[2]})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !haveDims {
		return nil, errors.Errorf("%s: missing matrix dimensions", dir)
	}
	return New(features, barcodes, entries)
}

func createWriter(ctx context.Context, path string, fn func(w *bufio.Writer) error) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	var (
		out io.Writer = f.Writer(ctx)
		gz  *gzip.Writer
	)
	if fileio.DetermineType(path) == fileio.Gzip {
		gz = gzip.NewWriter(out)
		out = gz
	}
	w := bufio.NewWriter(out)
	if err = fn(w); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if gz != nil {
		err = gz.Close()
	}
	return err
}

// WriteMEX writes the counts selected by v as a MEX directory. With
// compress set, each file is gzipped and named with a ".gz" suffix.
func WriteMEX(ctx context.Context, dir string, v *View, compress bool) error {
	suffix := ""
	if compress {
		suffix = ".gz"
	}
	features := v.Features()
	err := createWriter(ctx, file.Join(dir, MEXFeatures+suffix), func(w *bufio.Writer) error {
		for _, f := range features {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", f.ID, f.Name, f.Type, f.Genome, f.Target); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = createWriter(ctx, file.Join(dir, MEXBarcodes+suffix), func(w *bufio.Writer) error {
		for _, bc := range v.Barcodes() {
			if _, err := w.WriteString(bc + "\n"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	entries := v.Entries()
	return createWriter(ctx, file.Join(dir, MEXMatrix+suffix), func(w *bufio.Writer) error {
		if _, err := fmt.Fprintf(w, "%s\n%d %d %d\n", mexHeader, len(features), v.NumBarcodes(), len(entries)); err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := fmt.Fprintf(w, "%d %d %d\n", e.Feature+1, e.Barcode+1, e.Count); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkTargets flags the features whose ID is in ids as targets and returns
// the number of features flagged.
func (m *CountMatrix) MarkTargets(ids []string) int {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for i := range m.features {
		if want[m.features[i].ID] {
			m.features[i].Target = true
			n++
		}
	}
	return n
}
