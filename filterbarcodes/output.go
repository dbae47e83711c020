package filterbarcodes

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/cellfilter/aggregate"
	"github.com/grailbio/cellfilter/matrix"
)

// Output file names, relative to the output directory.
const (
	SummaryFile          = "summary.json"
	FilteredBarcodesFile = "filtered_barcodes.tsv"
	AggregateFile        = "aggregate_barcodes.tsv"
	NonAmbientFile       = "nonambient_calls.tsv"
	FilteredMatrixDir    = "filtered_feature_bc_matrix"
)

// WriteOpts selects the optional outputs of WriteOutputs.
type WriteOpts struct {
	// Matrix writes the filtered matrix as a MEX directory; Compress
	// gzips its files.
	Matrix   bool
	Compress bool
}

// WriteOutputs writes out to dir. The aggregate and non-ambient reports
// are written only when nonempty.
func WriteOutputs(ctx context.Context, dir string, out *Outputs, opts WriteOpts) error {
	err := create(ctx, file.Join(dir, SummaryFile), func(w io.Writer) error {
		data, err := json.MarshalIndent(out.Summary, "", "    ")
		if err != nil {
			return errors.E(err, "encoding summary")
		}
		_, err = w.Write(append(data, '\n'))
		return err
	})
	if err != nil {
		return err
	}
	err = create(ctx, file.Join(dir, FilteredBarcodesFile), func(w io.Writer) error {
		return writeFilteredBarcodes(w, out.GenomeFiltered)
	})
	if err != nil {
		return err
	}
	if len(out.AggregateReport) > 0 {
		if err := aggregate.WriteReport(ctx, file.Join(dir, AggregateFile), out.AggregateReport); err != nil {
			return err
		}
	}
	if len(out.NonAmbientCalls) > 0 {
		err = create(ctx, file.Join(dir, NonAmbientFile), func(w io.Writer) error {
			return writeNonAmbient(w, out.NonAmbientCalls)
		})
		if err != nil {
			return err
		}
	}
	if opts.Matrix && out.FilteredMatrix != nil {
		v, ok := out.FilteredMatrix.(*matrix.View)
		if !ok {
			return errors.E(errors.NotSupported, "filtered matrix is not an in-memory view")
		}
		return matrix.WriteMEX(ctx, file.Join(dir, FilteredMatrixDir), v, opts.Compress)
	}
	return nil
}

func create(ctx context.Context, path string, fn func(w io.Writer) error) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(f.Writer(ctx))
}

// writeFilteredBarcodes writes one genome,barcode line per cell, genomes in
// sorted order.
func writeFilteredBarcodes(w io.Writer, genomeFiltered map[string][]string) error {
	genomes := make([]string, 0, len(genomeFiltered))
	for g := range genomeFiltered {
		genomes = append(genomes, g)
	}
	sort.Strings(genomes)
	tw := tsv.NewWriter(w)
	for _, g := range genomes {
		for _, bc := range genomeFiltered[g] {
			tw.WriteString(g)
			tw.WriteString(bc)
			if err := tw.EndLine(); err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}

var nonAmbientHeader = []string{"barcode", "umis", "ambient_loglk", "pvalue", "pvalue_adj", "nonambient", "genome"}

func writeNonAmbient(w io.Writer, rows []NonAmbientRow) error {
	tw := tsv.NewWriter(w)
	for _, col := range nonAmbientHeader {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, row := range rows {
		tw.WriteString(row.Barcode)
		tw.WriteInt64(row.UMIs)
		tw.WriteFloat64(row.AmbientLogLk, 'g', -1)
		tw.WriteFloat64(row.PValue, 'g', -1)
		tw.WriteFloat64(row.PValueAdj, 'g', -1)
		tw.WriteString(strconv.FormatBool(row.NonAmbient))
		tw.WriteString(row.Genome)
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
