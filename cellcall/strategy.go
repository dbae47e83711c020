package cellcall

import (
	"fmt"
	"math/rand"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cellfilter/matrix"
)

// Call is the outcome of a Strategy on one partition.
type Call struct {
	// Indices lists the selected barcodes in ascending index order.
	Indices []int
	Result  FilterResult
	// Message is a diagnostic to log, e.g. when the input is empty.
	Message string
}

// Strategy maps per-barcode counts to a cell call. Implementations must
// draw randomness only from rnd.
type Strategy interface {
	Filter(counts []int64, rnd *rand.Rand) (Call, error)
}

// StrategyParams holds the per-partition inputs of NewStrategy.
type StrategyParams struct {
	// RecoveredCells is the expected number of cells in the partition, or
	// zero if unknown.
	RecoveredCells int
	// ForceCells is the number of cells for MethodTopN.
	ForceCells int
	Chemistry  Chemistry
	// TargetCounts holds per-barcode counts over target features, for
	// MethodTargeted.
	TargetCounts []int64
	// InferThroughput widens the gradient search of MethodGradient and
	// MethodTargeted to the whole barcode rank curve.
	InferThroughput bool
}

// NewStrategy returns the count-based strategy for m. MethodManual works on
// barcode sequences rather than counts; use FilterManual instead.
func NewStrategy(m Method, p StrategyParams) (Strategy, error) {
	switch m {
	case MethodOrdMag, MethodOrdMagNonAmbient:
		return &OrdMagFilter{
			RecoveredCells:   p.RecoveredCells,
			MaxExpectedCells: p.Chemistry.MaxExpectedCells(),
		}, nil
	case MethodTopN:
		return TopNFilter{N: p.ForceCells}, nil
	case MethodGradient:
		return &GradientFilter{RecoveredCells: p.RecoveredCells, InferThroughput: p.InferThroughput}, nil
	case MethodTargeted:
		return &TargetedFilter{
			Gradient: GradientFilter{
				RecoveredCells:     p.RecoveredCells,
				MaxAdditionalCells: p.Chemistry.GradientCandidates(),
				InferThroughput:    p.InferThroughput,
			},
			TargetCounts: p.TargetCounts,
		}, nil
	case MethodManual:
		return nil, errors.E(errors.Invalid, "manual cell calling has no count-based strategy")
	}
	return nil, errors.E(errors.Invalid, fmt.Sprintf("unsupported filter method %v", m))
}

// TopNFilter calls the N barcodes with the highest counts, or every nonzero
// barcode if there are fewer.
type TopNFilter struct {
	N int
}

// Filter implements Strategy.
func (f TopNFilter) Filter(counts []int64, _ *rand.Rand) (Call, error) {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	n := f.N
	if n > nonzero {
		n = nonzero
	}
	if n < 0 {
		n = 0
	}
	return Call{Indices: TopIndices(counts, n), Result: ConstantCall(n)}, nil
}

// FilterManual returns the barcodes of list that are present in v, in list
// order and without duplicates. If requireAll is set (the run has
// multiplexing-capture data), a barcode absent from v is an
// *InvalidBarcodeError.
func FilterManual(v matrix.CountView, list []string, requireAll bool) ([]string, FilterResult, error) {
	seen := make(map[string]bool, len(list))
	var out []string
	for _, bc := range list {
		if seen[bc] {
			continue
		}
		seen[bc] = true
		if _, ok := v.BarcodeIndex(bc); ok {
			out = append(out, bc)
		} else if requireAll {
			return nil, FilterResult{}, &InvalidBarcodeError{Barcode: bc}
		}
	}
	return out, ConstantCall(len(out)), nil
}
