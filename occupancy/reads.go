package occupancy

import (
	"context"
	"io"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/cellfilter/matrix"
	"github.com/pkg/errors"
)

// NoBarcode is the per-barcode metrics key for reads without a valid
// barcode.
const NoBarcode = "NO_BARCODE"

// ReadCounts maps barcodes to their read counts.
type ReadCounts map[string]int64

type readsRow struct {
	Barcode string `tsv:"barcode"`
	Reads   int64  `tsv:"reads"`
}

// ReadPerBarcodeMetrics reads a TSV with barcode and reads columns, as
// written by the counting stage. Rows for the same barcode are summed.
func ReadPerBarcodeMetrics(ctx context.Context, path string) (counts ReadCounts, err error) {
	r, closer, err := matrix.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return readPerBarcodeMetrics(r)
}

func readPerBarcodeMetrics(r io.Reader) (ReadCounts, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	counts := ReadCounts{}
	for {
		var row readsRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				return counts, nil
			}
			return nil, errors.Wrap(err, "reading per-barcode metrics")
		}
		counts[row.Barcode] += row.Reads
	}
}
