package cellcall

import (
	"math"
	"math/rand"
	"sort"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/stat"
)

const (
	// BootstrapSamples is the default number of bootstrap resamples.
	BootstrapSamples = 100
	// RecoveredCellsQuantile places the baseline barcode at this quantile of
	// the expected cells.
	RecoveredCellsQuantile = 0.99
	// MinRecoveredCells and MaxRecoveredCells bound the per-gem-group
	// recovered-cell count.
	MinRecoveredCells = 50
	MaxRecoveredCells = 1 << 18
	// DefaultRecoveredCells is used by the gradient methods when the
	// recovered-cell count is unknown.
	DefaultRecoveredCells = 3000
	// DefaultEmptyDropsMinUMIs is the default minimum UMI count of a
	// non-ambient candidate.
	DefaultEmptyDropsMinUMIs = 500

	// MaxTieExtensionFraction caps the monotonicity correction: if
	// including every barcode tied at the cutoff count would grow the call
	// by more than this fraction, the uncorrected count is kept.
	MaxTieExtensionFraction = 0.2

	ordMagGridSize = 2000
	// z-score of the 97.5th percentile of the standard normal.
	z975 = 1.959963984540054
)

// EmptyCallMessage is the diagnostic attached to calls on partitions with
// no nonzero barcode.
const EmptyCallMessage = "WARNING: All barcodes do not have enough reads for ordmag, allowing no bcs through"

// OrdMagFilter calls every barcode whose count is within an order of
// magnitude of a baseline barcode ranked at the 99th percentile of the
// expected cells. The count is estimated by bootstrap resampling.
type OrdMagFilter struct {
	// RecoveredCells is the expected number of cells. If zero it is inferred
	// from the data.
	RecoveredCells int
	// MaxExpectedCells bounds the inferred recovered-cell count. Zero means
	// MaxRecoveredCells.
	MaxExpectedCells int
	// Bootstraps is the number of resamples. Zero means BootstrapSamples.
	Bootstraps int
}

// Filter implements Strategy.
func (f *OrdMagFilter) Filter(counts []int64, rnd *rand.Rand) (Call, error) {
	nonzero := sortedNonzero(counts)
	if len(nonzero) == 0 {
		return Call{Message: EmptyCallMessage}, nil
	}
	bootstraps := f.Bootstraps
	if bootstraps <= 0 {
		bootstraps = BootstrapSamples
	}
	rc := f.RecoveredCells
	if rc <= 0 {
		maxExpected := f.MaxExpectedCells
		if maxExpected <= 0 {
			maxExpected = MaxRecoveredCells
		}
		var loss float64
		rc, loss = EstimateRecoveredCells(nonzero, maxExpected, bootstraps, rnd)
		log.Printf("ordmag: found recovered cells = %d with loss = %v", rc, loss)
	} else {
		if rc < MinRecoveredCells {
			rc = MinRecoveredCells
		}
		log.Debug.Printf("ordmag: using provided recovered cells = %d", rc)
	}

	baseline := BaselineIndex(rc, len(nonzero))
	b := newBootstrapper(nonzero, rnd)
	top := make([]float64, bootstraps)
	for i := range top {
		top[i] = float64(WithinOrdMag(b.sample(), baseline))
	}
	result := summarizeBootstrap(top, nonzero)
	return Call{Indices: TopIndices(counts, result.Count), Result: result}, nil
}

// BaselineIndex returns the descending rank of the baseline barcode for
// recoveredCells expected cells among n nonzero barcodes.
func BaselineIndex(recoveredCells, n int) int {
	q := RecoveredCellsQuantile
	// Evaluated in float64 so that 1-q is not exactly 0.01.
	idx := int(math.RoundToEven(float64(recoveredCells) * (1 - q)))
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// OrdMagCutoff returns the smallest count within an order of magnitude of
// baseline.
func OrdMagCutoff(baseline int64) int64 {
	c := int64(math.RoundToEven(0.1 * float64(baseline)))
	if c < 1 {
		c = 1
	}
	return c
}

// WithinOrdMag returns the number of barcodes whose count is within an
// order of magnitude of the barcode at descending rank baselineIdx. asc
// must be sorted in ascending order.
func WithinOrdMag(asc []int64, baselineIdx int) int {
	cutoff := OrdMagCutoff(asc[len(asc)-1-baselineIdx])
	return len(asc) - sort.Search(len(asc), func(i int) bool { return asc[i] >= cutoff })
}

// EstimateRecoveredCells infers the number of recovered cells as the
// candidate value rc for which the number of barcodes within an order of
// magnitude of the baseline for rc is closest to rc itself, with loss
// (observed-rc)²/rc. Candidates are log-spaced between 2 and maxExpected.
// The estimate and its loss are averaged over bootstrap resamples of asc,
// which must be sorted in ascending order; the estimate is at least
// MinRecoveredCells.
func EstimateRecoveredCells(asc []int64, maxExpected, bootstraps int, rnd *rand.Rand) (int, float64) {
	grid := ordMagGrid(maxExpected)
	baselines := make([]int, len(grid))
	for i, rc := range grid {
		baselines[i] = BaselineIndex(rc, len(asc))
	}
	b := newBootstrapper(asc, rnd)
	rcs := make([]float64, bootstraps)
	losses := make([]float64, bootstraps)
	for i := range rcs {
		sample := b.sample()
		bestLoss, bestRC := math.Inf(1), 0
		for j, rc := range grid {
			d := float64(WithinOrdMag(sample, baselines[j]) - rc)
			if loss := d * d / float64(rc); loss < bestLoss {
				bestLoss, bestRC = loss, rc
			}
		}
		rcs[i], losses[i] = float64(bestRC), bestLoss
	}
	rc := int(math.RoundToEven(stat.Mean(rcs, nil)))
	if rc < MinRecoveredCells {
		rc = MinRecoveredCells
	}
	return rc, stat.Mean(losses, nil)
}

// ordMagGrid returns the distinct values round(2^e) for ordMagGridSize
// exponents e evenly spaced over [1, log2(maxExpected)].
func ordMagGrid(maxExpected int) []int {
	start, stop := 1.0, math.Log2(float64(maxExpected))
	step := (stop - start) / float64(ordMagGridSize-1)
	grid := make([]int, 0, ordMagGridSize)
	for i := 0; i < ordMagGridSize; i++ {
		e := start + float64(i)*step
		if i == ordMagGridSize-1 {
			e = stop
		}
		v := int(math.RoundToEven(math.Pow(2, e)))
		if len(grid) == 0 || v > grid[len(grid)-1] {
			grid = append(grid, v)
		}
	}
	return grid
}

// summarizeBootstrap turns bootstrap estimates of the call size into a
// FilterResult. The count is the rounded mean, extended so that every
// barcode tied with the last called barcode is called too; the extension
// is abandoned if it exceeds MaxTieExtensionFraction of the count.
func summarizeBootstrap(top []float64, asc []int64) FilterResult {
	mean, variance := stat.PopMeanVariance(top, nil)
	sd := math.Sqrt(variance)

	r := FilterResult{
		Variance:   variance,
		CV:         RobustDivide(sd, mean),
		LowerBound: math.RoundToEven(mean - z975*sd),
		UpperBound: math.RoundToEven(mean + z975*sd),
	}
	n := int(math.RoundToEven(mean))
	r.Count = n
	if n <= 0 {
		return r
	}
	// desc[i] = asc[len-1-i]
	desc := func(i int) int64 { return asc[len(asc)-1-i] }
	cutoff := desc(n - 1)
	idx := n - 1
	for idx+1 < len(asc) && desc(idx+1) == cutoff {
		idx++
		if float64(idx+1-n) > MaxTieExtensionFraction*float64(n) {
			return r
		}
	}
	r.Count = idx + 1
	return r
}

// bootstrapper draws resamples (with replacement, same size) of a sorted
// slice. Each resample is returned sorted, built by counting how often each
// position is drawn.
type bootstrapper struct {
	asc    []int64
	rnd    *rand.Rand
	hits   []int32
	sorted []int64
}

func newBootstrapper(asc []int64, rnd *rand.Rand) *bootstrapper {
	return &bootstrapper{
		asc:    asc,
		rnd:    rnd,
		hits:   make([]int32, len(asc)),
		sorted: make([]int64, len(asc)),
	}
}

// sample returns the next resample. The slice is reused by the next call.
func (b *bootstrapper) sample() []int64 {
	n := len(b.asc)
	for i := range b.hits {
		b.hits[i] = 0
	}
	for i := 0; i < n; i++ {
		b.hits[b.rnd.Intn(n)]++
	}
	j := 0
	for i, h := range b.hits {
		for ; h > 0; h-- {
			b.sorted[j] = b.asc[i]
			j++
		}
	}
	return b.sorted
}

// sortedNonzero returns the nonzero counts in ascending order.
func sortedNonzero(counts []int64) []int64 {
	var out []int64
	for _, c := range counts {
		if c > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TopIndices returns, in ascending order, the indices of the n largest
// counts. Ties go to the lower index.
func TopIndices(counts []int64, n int) []int {
	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if n > len(order) {
		n = len(order)
	}
	if n < 0 {
		n = 0
	}
	top := order[:n]
	sort.Ints(top)
	return top
}
