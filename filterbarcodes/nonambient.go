package filterbarcodes

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cellfilter/cellcall"
	"github.com/grailbio/cellfilter/matrix"
)

// NonAmbientDetector tests candidate barcodes against the ambient RNA
// profile of a partition. It returns (nil, nil) when the partition has too
// few candidates to test; the extension step is then skipped for that
// partition.
type NonAmbientDetector interface {
	FindNonAmbient(v matrix.CountView, called []string, chem cellcall.Chemistry, p NonAmbientParams) (*NonAmbientResult, error)
}

// NonAmbientParams are the tuning inputs of a NonAmbientDetector.
type NonAmbientParams struct {
	// MinUMIs is the minimum UMI count of a candidate barcode.
	MinUMIs int
	// NumProbeBarcodes is the number of probe barcodes of the sample, or 0
	// for runs without probe barcodes.
	NumProbeBarcodes int
}

// NonAmbientResult holds per-candidate test outcomes. All slices have the
// length of EvalBarcodes, which holds barcode indices of the view passed to
// the detector.
type NonAmbientResult struct {
	EvalBarcodes  []int
	LogLikelihood []float64
	PValues       []float64
	PValuesAdj    []float64
	IsNonAmbient  []bool
}

func (r *NonAmbientResult) validate(numBarcodes int) error {
	n := len(r.EvalBarcodes)
	if len(r.LogLikelihood) != n || len(r.PValues) != n || len(r.PValuesAdj) != n || len(r.IsNonAmbient) != n {
		return errors.E(errors.Invalid, fmt.Sprintf("non-ambient result: mismatched lengths %d/%d/%d/%d/%d",
			n, len(r.LogLikelihood), len(r.PValues), len(r.PValuesAdj), len(r.IsNonAmbient)))
	}
	for _, i := range r.EvalBarcodes {
		if i < 0 || i >= numBarcodes {
			return errors.E(errors.Invalid, fmt.Sprintf("non-ambient result: barcode index %d out of range [0,%d)", i, numBarcodes))
		}
	}
	return nil
}

// NonAmbientRow is one line of the non-ambient call report.
type NonAmbientRow struct {
	Barcode      string
	UMIs         int64
	AmbientLogLk float64
	PValue       float64
	PValueAdj    float64
	NonAmbient   bool
	Genome       string
}

// nonAmbientRows flattens r, evaluated on v, into report rows and returns
// the barcodes called non-ambient.
func nonAmbientRows(v matrix.CountView, genome string, r *NonAmbientResult) (rows []NonAmbientRow, called []string) {
	counts := v.CountsPerBarcode()
	for j, i := range r.EvalBarcodes {
		bc := v.Barcode(i)
		rows = append(rows, NonAmbientRow{
			Barcode:      bc,
			UMIs:         counts[i],
			AmbientLogLk: r.LogLikelihood[j],
			PValue:       r.PValues[j],
			PValueAdj:    r.PValuesAdj[j],
			NonAmbient:   r.IsNonAmbient[j],
			Genome:       genome,
		})
		if r.IsNonAmbient[j] {
			called = append(called, bc)
		}
	}
	return rows, called
}
