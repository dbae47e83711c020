package cellcall

import (
	"math"
	"math/rand"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cellfilter/spline"
)

const (
	// GradientCandidatesDefault and GradientCandidatesLT bound how many
	// barcodes beyond the baseline the gradient method considers.
	GradientCandidatesDefault = 20000
	GradientCandidatesLT      = 2000
	// MinUMIsAdditionalCells is the minimum count of a barcode considered
	// by the gradient method beyond the baseline.
	MinUMIsAdditionalCells = 10
	// MinTargetedUMIs is the minimum target-feature count of a targeted
	// cell.
	MinTargetedUMIs = 1

	throughputCandidates = 150000
	throughputMinUMIs    = 3
	maxSplineDegree      = 3
	splineSmoothingMin   = 50
)

// GradientFilter calls barcodes above the point of steepest descent of the
// barcode rank curve, log10(count) against log10(rank), smoothed with a
// spline. The search is restricted to ranks between the ordmag baseline
// and MaxAdditionalCells beyond it.
type GradientFilter struct {
	// RecoveredCells is the expected number of cells; zero means
	// DefaultRecoveredCells.
	RecoveredCells int
	// MaxAdditionalCells defaults to GradientCandidatesDefault.
	MaxAdditionalCells int
	// MinUMIsAdditionalCells defaults to MinUMIsAdditionalCells.
	MinUMIsAdditionalCells int64
	// InferThroughput searches the whole curve from rank 0, with wider
	// limits, to locate the knee of high-throughput runs.
	InferThroughput bool
}

// Filter implements Strategy. The gradient method is deterministic; rnd is
// unused.
func (f *GradientFilter) Filter(counts []int64, _ *rand.Rand) (Call, error) {
	n, err := f.numCells(counts)
	if err != nil {
		return Call{}, err
	}
	if n == 0 {
		return Call{Message: "WARNING: All barcodes do not have enough reads for gradient, allowing no bcs through"}, nil
	}
	return Call{Indices: TopIndices(counts, n), Result: ConstantCall(n)}, nil
}

func (f *GradientFilter) numCells(counts []int64) (int, error) {
	asc := sortedNonzero(counts)
	n := len(asc)
	if n == 0 {
		return 0, nil
	}
	desc := make([]int64, n)
	for i, c := range asc {
		desc[n-1-i] = c
	}
	// atLeast returns the number of barcodes with count >= v.
	atLeast := func(v float64) int {
		return n - sort.Search(n, func(i int) bool { return float64(asc[i]) >= v })
	}

	rc := f.RecoveredCells
	switch {
	case rc <= 0:
		rc = DefaultRecoveredCells
	case rc < MinRecoveredCells:
		rc = MinRecoveredCells
	}
	maxAdd := f.MaxAdditionalCells
	if maxAdd <= 0 {
		maxAdd = GradientCandidatesDefault
	}
	minUMIs := f.MinUMIsAdditionalCells
	if minUMIs <= 0 {
		minUMIs = MinUMIsAdditionalCells
	}

	var lower int
	if f.InferThroughput {
		maxAdd, minUMIs = throughputCandidates, throughputMinUMIs
	} else {
		baseline := desc[BaselineIndex(rc, n)]
		lower = min(atLeast(float64(baseline)/10.0)-1, n-1)
	}
	upper := min(lower+maxAdd, atLeast(float64(minUMIs)))
	upper = min(max(upper, lower), n-1)

	// Rank curve over the distinct counts, in descending order, plus an end
	// point at y=0 so that tiny inputs still have a curve.
	var (
		ranks []int
		logX  []float64
		logY  []float64
	)
	for i := 0; i < n; i++ {
		if i > 0 && desc[i] == desc[i-1] {
			continue
		}
		r := atLeast(float64(desc[i]))
		ranks = append(ranks, r)
		logX = append(logX, math.Log10(float64(r)))
		logY = append(logY, math.Log10(float64(desc[i])))
	}
	var total float64
	for _, c := range asc {
		total += float64(c)
	}
	logX = append(logX, math.Log10(1+total))
	logY = append(logY, 0)

	s, err := fitRankCurve(logX, logY)
	if err != nil {
		return 0, err
	}
	d := s.Derivative()
	best, bestGrad := 0, math.Inf(1)
	for i, r := range ranks {
		g := 0.0
		if r >= lower && r <= upper {
			g = d.Eval(logX[i])
		}
		if g < bestGrad {
			best, bestGrad = i, g
		}
	}
	cutoff := math.RoundToEven(math.Pow(10, logY[best]))
	cells := max(n-sort.Search(n, func(i int) bool { return float64(asc[i]) > cutoff }), lower+1)
	return min(cells, n), nil
}

// fitRankCurve interpolates the curve, then for curves of more than
// splineSmoothingMin points refits it by least squares on fewer knots.
func fitRankCurve(x, y []float64) (*spline.Spline, error) {
	k := min(maxSplineDegree, len(y)-1)
	s, err := spline.Interpolate(x, y, k)
	if err != nil {
		return nil, errors.E(err, "fitting barcode rank curve")
	}
	if len(x) <= splineSmoothingMin {
		return s, nil
	}
	numKnots := spline.NumKnots(len(x))
	knots := s.Knots()
	if numKnots >= len(knots) {
		return s, nil
	}
	s, err = spline.Fit(x, y, k, spline.ReducedKnots(knots, numKnots))
	if err != nil {
		return nil, errors.E(err, "smoothing barcode rank curve")
	}
	return s, nil
}

// TargetedFilter runs Gradient on total counts and keeps the called
// barcodes with at least MinTargetedUMIs (default MinTargetedUMIs)
// target-feature counts.
type TargetedFilter struct {
	Gradient GradientFilter
	// TargetCounts holds per-barcode counts over target features, aligned
	// with the counts passed to Filter.
	TargetCounts    []int64
	MinTargetedUMIs int64
}

// Filter implements Strategy.
func (f *TargetedFilter) Filter(counts []int64, rnd *rand.Rand) (Call, error) {
	if len(f.TargetCounts) != len(counts) {
		return Call{}, errors.E(errors.Invalid, "targeted counts do not match total counts")
	}
	call, err := f.Gradient.Filter(counts, rnd)
	if err != nil {
		return Call{}, err
	}
	minUMIs := f.MinTargetedUMIs
	if minUMIs <= 0 {
		minUMIs = MinTargetedUMIs
	}
	kept := make([]int, 0, len(call.Indices))
	for _, i := range call.Indices {
		if f.TargetCounts[i] >= minUMIs {
			kept = append(kept, i)
		}
	}
	return Call{Indices: kept, Result: ConstantCall(len(kept)), Message: call.Message}, nil
}
