package aggregate

import (
	"bufio"
	"context"
	"io"
	"sort"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/cellfilter/matrix"
	"github.com/pkg/errors"
)

// CorrectionRow is one row of the barcode UMI-correction table: per barcode
// and library type, the number of reads, UMIs and reads whose UMI was
// corrected.
type CorrectionRow struct {
	Barcode           string `tsv:"barcode"`
	LibraryType       string `tsv:"library_type"`
	Reads             int64  `tsv:"reads"`
	UMIs              int64  `tsv:"umis"`
	UMICorrectedReads int64  `tsv:"umi_corrected_reads"`
}

// ReadCorrectionTable reads a correction table with a header row. An empty
// file yields no rows.
func ReadCorrectionTable(ctx context.Context, path string) (rows []CorrectionRow, err error) {
	r, closer, err := matrix.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return readCorrectionTable(r)
}

func readCorrectionTable(r io.Reader) ([]CorrectionRow, error) {
	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err == io.EOF {
		return nil, nil
	}
	tr := tsv.NewReader(br)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	var rows []CorrectionRow
	for {
		var row CorrectionRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "reading correction table")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// HasLibraryType reports whether any row has one of the given library
// types.
func HasLibraryType(rows []CorrectionRow, types ...string) bool {
	for _, row := range rows {
		for _, t := range types {
			if row.LibraryType == t {
				return true
			}
		}
	}
	return false
}

// AugmentedRow is a correction row of one library type with the fraction
// of its reads that were corrected and its fraction of the library's reads.
type AugmentedRow struct {
	CorrectionRow
	FracCorrected float64
	FracTotal     float64
}

// Augment returns the rows of libType with their read fractions.
func Augment(rows []CorrectionRow, libType string) []AugmentedRow {
	var total int64
	for _, row := range rows {
		if row.LibraryType == libType {
			total += row.Reads
		}
	}
	var out []AugmentedRow
	for _, row := range rows {
		if row.LibraryType != libType {
			continue
		}
		a := AugmentedRow{CorrectionRow: row}
		if row.Reads > 0 {
			a.FracCorrected = float64(row.UMICorrectedReads) / float64(row.Reads)
		}
		if total > 0 {
			a.FracTotal = float64(row.Reads) / float64(total)
		}
		out = append(out, a)
	}
	return out
}

// WriteReport writes rows as a TSV with a header, fractions rounded to
// three decimals.
func WriteReport(ctx context.Context, path string, rows []AugmentedRow) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer func() {
		if cerr := out.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return writeReport(out.Writer(ctx), rows)
}

var reportHeader = []string{
	"barcode", "library_type", "reads", "umis", "umi_corrected_reads", "frac_corrected_reads", "frac_total_reads",
}

func writeReport(w io.Writer, rows []AugmentedRow) error {
	tw := tsv.NewWriter(w)
	for _, col := range reportHeader {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, row := range rows {
		tw.WriteString(row.Barcode)
		tw.WriteString(row.LibraryType)
		tw.WriteInt64(row.Reads)
		tw.WriteInt64(row.UMIs)
		tw.WriteInt64(row.UMICorrectedReads)
		tw.WriteFloat64(row.FracCorrected, 'f', 3)
		tw.WriteFloat64(row.FracTotal, 'f', 3)
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func sortRows(rows []AugmentedRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Barcode != rows[j].Barcode {
			return rows[i].Barcode < rows[j].Barcode
		}
		return rows[i].LibraryType < rows[j].LibraryType
	})
}
