// Package occupancy removes cell calls from overloaded GEMs in
// probe-multiplexed runs.
//
// In these runs a barcode is a GEM partition sequence followed by a probe
// barcode identifying the sample, so one GEM can hold up to one cell per
// probe barcode. The number of cells per GEM is modeled as Poisson with a
// rate estimated from the loading; GEMs holding more probe barcodes than a
// high quantile of the simulated distribution are taken to be overloaded
// and all their barcodes are dropped.
package occupancy

import (
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cellfilter/barcode"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Opts configures Filter.
type Opts struct {
	// Layout locates the probe barcode. Filtering is skipped for layouts
	// without one.
	Layout barcode.Layout
	// TotalPartitions is the approximate number of GEMs an instrument run
	// generates, and RecoveryFactor the fraction of them recovered.
	TotalPartitions int
	RecoveryFactor  float64
	// SimulatedGEMs is the number of Poisson draws used to estimate the
	// threshold.
	SimulatedGEMs int
	// Quantile of the simulated distinct probe barcodes per GEM above which
	// a GEM is high occupancy.
	Quantile float64
}

// DefaultOpts holds the defaults for a standard kit run.
var DefaultOpts = Opts{
	TotalPartitions: 115000,
	RecoveryFactor:  1 / 1.65,
	SimulatedGEMs:   1000000,
	Quantile:        0.999,
}

// Summary describes one run of Filter. It is not modified after Filter
// returns.
type Summary struct {
	// CellsPerGEMHistogram maps a number of called barcodes to the number
	// of GEMs with that many. Key 0 holds the estimated number of empty
	// recovered GEMs.
	CellsPerGEMHistogram map[int]int
	EstimatedLambda      float64
	TotalProbeBarcodes   int
	Threshold            int

	FractionCellGEMsHighOccupancy      float64
	TotalCellsInHighOccupancyGEMs      int
	FractionCellsInHighOccupancyGEMs   float64
	FractionCellReadsHighOccupancyGEMs float64
	FractionReadsHighOccupancyGEMs     float64
	FractionCellReadsInCellGEMs        float64
}

// Metrics returns s as run-summary entries.
func (s Summary) Metrics() map[string]interface{} {
	var hist map[string]int
	if s.CellsPerGEMHistogram != nil {
		hist = make(map[string]int, len(s.CellsPerGEMHistogram))
		for k, v := range s.CellsPerGEMHistogram {
			hist[strconv.Itoa(k)] = v
		}
	}
	return map[string]interface{}{
		"rtl_multiplexing_cells_per_gem_histogram":                      hist,
		"rtl_multiplexing_estimated_lambda":                             s.EstimatedLambda,
		"rtl_multiplexing_total_probe_barcodes":                         s.TotalProbeBarcodes,
		"rtl_multiplexing_high_occupancy_probe_barcode_count_threshold": s.Threshold,
		"rtl_multiplexing_fraction_cell_gems_high_occupancy":            s.FractionCellGEMsHighOccupancy,
		"rtl_multiplexing_total_cells_in_high_occupancy_gems":           s.TotalCellsInHighOccupancyGEMs,
		"rtl_multiplexing_fraction_cells_in_high_occupancy_gems":        s.FractionCellsInHighOccupancyGEMs,
		"rtl_multiplexing_fraction_cell_reads_high_occupancy_gems":      s.FractionCellReadsHighOccupancyGEMs,
		"rtl_multiplexing_fraction_reads_high_occupancy_gems":           s.FractionReadsHighOccupancyGEMs,
		"rtl_multiplexing_fraction_cell_reads_in_cell_gems":             s.FractionCellReadsInCellGEMs,
	}
}

// Filter removes the barcodes of high-occupancy GEMs from filtered and from
// each list of genomeFiltered. reads gives the read count of every barcode,
// including reads without a valid barcode. The inputs are not modified.
func Filter(filtered []string, genomeFiltered map[string][]string, reads ReadCounts, opts Opts, rnd *rand.Rand) ([]string, map[string][]string, Summary) {
	if !opts.Layout.HasProbe() || len(filtered) == 0 {
		return filtered, genomeFiltered, Summary{}
	}
	layout := opts.Layout
	gem := func(bc string) string {
		return barcode.Join(layout.Partition(bc), barcode.GemGroup(bc))
	}

	perGEM := map[string]int{}
	tags := make([]string, len(filtered))
	distinctTags := map[string]bool{}
	for i, bc := range filtered {
		perGEM[gem(bc)]++
		tags[i] = layout.Tag(bc)
		distinctTags[tags[i]] = true
	}
	hist := map[int]int{}
	for _, n := range perGEM {
		hist[n]++
	}
	empty := int(float64(opts.TotalPartitions)*opts.RecoveryFactor - float64(len(perGEM)))
	if empty < 0 {
		empty = 0
	}
	hist[0] = empty

	var weighted, gems float64
	for k, n := range hist {
		weighted += float64(k) * float64(n)
		gems += float64(n)
	}
	lambda := weighted / gems
	threshold := Threshold(lambda, tags, opts, rnd)

	high := map[string]bool{}
	highGEMs := 0
	for _, n := range perGEM {
		if n > threshold {
			highGEMs++
		}
	}
	for _, bc := range filtered {
		if perGEM[gem(bc)] > threshold {
			high[bc] = true
		}
	}

	var totalReads, cellReads, cellGEMReads, highReads int64
	for bc, n := range reads {
		totalReads += n
		if _, ok := perGEM[gem(bc)]; ok {
			cellGEMReads += n
		}
	}
	for _, bc := range filtered {
		cellReads += reads[bc]
		if high[bc] {
			highReads += reads[bc]
		}
	}

	s := Summary{
		CellsPerGEMHistogram:               hist,
		EstimatedLambda:                    lambda,
		TotalProbeBarcodes:                 len(distinctTags),
		Threshold:                          threshold,
		FractionCellGEMsHighOccupancy:      divide(float64(highGEMs), float64(len(perGEM))),
		TotalCellsInHighOccupancyGEMs:      len(high),
		FractionCellsInHighOccupancyGEMs:   divide(float64(len(high)), float64(len(filtered))),
		FractionCellReadsHighOccupancyGEMs: divide(float64(highReads), float64(cellReads)),
		FractionReadsHighOccupancyGEMs:     divide(float64(highReads), float64(totalReads)),
		FractionCellReadsInCellGEMs:        divide(float64(cellReads), float64(cellGEMReads)),
	}
	log.Printf("occupancy: lambda %.4f, threshold %d probe barcodes, %d of %d GEMs high occupancy (%d barcodes)",
		lambda, threshold, highGEMs, len(perGEM), len(high))

	keep := func(bcs []string) []string {
		out := make([]string, 0, len(bcs))
		for _, bc := range bcs {
			if !high[bc] {
				out = append(out, bc)
			}
		}
		return out
	}
	outGenome := make(map[string][]string, len(genomeFiltered))
	for g, bcs := range genomeFiltered {
		outGenome[g] = keep(bcs)
	}
	return keep(filtered), outGenome, s
}

// Threshold simulates opts.SimulatedGEMs GEMs with Poisson(lambda) cells
// each, assigns every cell a probe barcode drawn with the frequencies of
// tags (one entry per called barcode), and returns the rounded-up
// opts.Quantile of the number of distinct probe barcodes per occupied GEM.
// If no simulated GEM is occupied, no GEM can exceed the returned value.
func Threshold(lambda float64, tags []string, opts Opts, rnd *rand.Rand) int {
	freq := map[string]int{}
	for _, t := range tags {
		freq[t]++
	}
	names := make([]string, 0, len(freq))
	for t := range freq {
		names = append(names, t)
	}
	sort.Strings(names)
	cum := make([]float64, len(names))
	var total float64
	for i, t := range names {
		total += float64(freq[t])
		cum[i] = total
	}
	draw := func() int {
		u := rnd.Float64() * total
		i := sort.Search(len(cum), func(i int) bool { return cum[i] > u })
		if i == len(cum) {
			i--
		}
		return i
	}

	if lambda <= 0 {
		return len(names)
	}
	cells := newPoisson(lambda, rnd)
	// distinct[k] counts simulated GEMs with k distinct probe barcodes.
	var distinct []int
	seen := make([]int, len(names))
	occupied := 0
	for g := 1; g <= opts.SimulatedGEMs; g++ {
		n := int(cells.Rand())
		if n == 0 {
			continue
		}
		k := 0
		for ; n > 0; n-- {
			if i := draw(); seen[i] != g {
				seen[i] = g
				k++
			}
		}
		for len(distinct) <= k {
			distinct = append(distinct, 0)
		}
		distinct[k]++
		occupied++
	}
	if occupied == 0 {
		return len(names)
	}
	return int(math.Ceil(quantile(distinct, opts.Quantile)))
}

// quantile returns the q-quantile, linearly interpolated, of the values
// 0..len(hist)-1 weighted by their counts in hist.
func quantile(hist []int, q float64) float64 {
	var x, w []float64
	for v, c := range hist {
		if c > 0 {
			x = append(x, float64(v))
			w = append(w, float64(c))
		}
	}
	return stat.Quantile(q, stat.LinInterp, x, w)
}

// source adapts a *rand.Rand to the source interface of the distuv
// distributions, so that they draw from the caller's stream.
type source struct{ *rand.Rand }

func (s source) Seed(seed uint64) { s.Rand.Seed(int64(seed)) }

// newPoisson returns a Poisson distribution with mean lambda drawing from
// rnd.
func newPoisson(lambda float64, rnd *rand.Rand) distuv.Poisson {
	return distuv.Poisson{Lambda: lambda, Src: source{rnd}}
}

func divide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
