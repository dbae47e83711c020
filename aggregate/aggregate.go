// Package aggregate detects barcodes contaminated by antibody or antigen
// protein aggregates. Aggregates show up either as barcodes whose reads
// needed unusually many UMI corrections, or as barcodes with outlying UMI
// totals among the cell-like barcodes.
package aggregate

import (
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cellfilter/cellcall"
	"github.com/grailbio/cellfilter/matrix"
	"gonum.org/v1/gonum/stat"
)

// Opts controls the outlier tests.
type Opts struct {
	// MinReads is the minimum number of reads of a barcode considered by the
	// correction-rate test.
	MinReads int64
	// MinCorrectedFraction is the smallest corrected-read fraction flagged.
	MinCorrectedFraction float64
	// MADMultiplier is the number of (normal-consistent) median absolute
	// deviations above the median beyond which a value is an outlier.
	MADMultiplier float64
	// MinOutlierUMIs is the smallest UMI count flagged by the UMI test.
	MinOutlierUMIs int64
}

// DefaultOpts are the default outlier-test parameters.
var DefaultOpts = Opts{
	MinReads:             1000,
	MinCorrectedFraction: 0.1,
	MADMultiplier:        5,
	MinOutlierUMIs:       1000,
}

// madScale makes the median absolute deviation a consistent estimator of
// the standard deviation of normal data.
const madScale = 1.4826

// Result is the outcome of Detect.
type Result struct {
	// Barcodes lists the flagged barcodes, sorted and deduplicated.
	Barcodes []string
	// Report holds the correction rows of the flagged barcodes.
	Report []AugmentedRow
	// Metrics holds per-library-type counts and read fractions.
	Metrics map[string]float64
}

// MetricPrefix returns the summary-key prefix of a library type.
func MetricPrefix(libType string) string {
	switch libType {
	case matrix.GeneExpression:
		return ""
	case matrix.AntibodyCapture:
		return "ANTIBODY_"
	case matrix.AntigenCapture:
		return "ANTIGEN_"
	case matrix.CRISPRGuideCapture:
		return "CRISPR_"
	case matrix.MultiplexingCapture:
		return "MULTIPLEXING_"
	}
	return "Custom_"
}

// Detect flags aggregate barcodes of v for each of antibody and antigen
// capture present in libTypes. Antibody barcodes are flagged by either the
// correction-rate test or the UMI test; antigen barcodes by the UMI test
// only. v is not modified.
func Detect(v matrix.CountView, rows []CorrectionRow, libTypes []string, opts Opts) Result {
	res := Result{Metrics: map[string]float64{}}
	flagged := map[string]bool{}
	seenRow := map[CorrectionRow]bool{}
	for _, libType := range []string{matrix.AntibodyCapture, matrix.AntigenCapture} {
		if !contains(libTypes, libType) {
			continue
		}
		table := Augment(rows, libType)
		var bcs map[string]bool
		if libType == matrix.AntibodyCapture {
			bcs = highlyCorrected(table, opts)
			for bc := range umiOutliers(v.SelectFeatureTypes(libType), opts) {
				bcs[bc] = true
			}
		} else {
			bcs = umiOutliers(v.SelectFeatureTypes(libType), opts)
		}
		var fracLost float64
		for _, row := range table {
			if !bcs[row.Barcode] {
				continue
			}
			fracLost += row.FracTotal
			if !seenRow[row.CorrectionRow] {
				seenRow[row.CorrectionRow] = true
				res.Report = append(res.Report, row)
			}
		}
		prefix := MetricPrefix(libType)
		res.Metrics[prefix+"number_aggregate_GEMs"] = float64(len(bcs))
		res.Metrics[prefix+"reads_lost_to_aggregate_GEMs"] = fracLost
		log.Printf("aggregate: %d %s aggregate barcodes, %.4f of reads", len(bcs), libType, fracLost)
		for bc := range bcs {
			flagged[bc] = true
		}
	}
	for bc := range flagged {
		res.Barcodes = append(res.Barcodes, bc)
	}
	sort.Strings(res.Barcodes)
	sortRows(res.Report)
	return res
}

// Remove returns v without the given barcodes.
func Remove(v matrix.CountView, bcs []string) matrix.CountView {
	if len(bcs) == 0 {
		return v
	}
	drop := make(map[string]bool, len(bcs))
	for _, bc := range bcs {
		drop[bc] = true
	}
	return v.SelectBarcodesFunc(func(bc string) bool { return !drop[bc] })
}

// highlyCorrected flags barcodes with enough reads whose corrected-read
// fraction is an upper outlier and at least opts.MinCorrectedFraction.
func highlyCorrected(table []AugmentedRow, opts Opts) map[string]bool {
	var fracs []float64
	for _, row := range table {
		if row.Reads >= opts.MinReads {
			fracs = append(fracs, row.FracCorrected)
		}
	}
	out := map[string]bool{}
	if len(fracs) == 0 {
		return out
	}
	med, mad := medianMAD(fracs)
	threshold := math.Max(opts.MinCorrectedFraction, med+opts.MADMultiplier*madScale*mad)
	for _, row := range table {
		if row.Reads >= opts.MinReads && row.FracCorrected > threshold {
			out[row.Barcode] = true
		}
	}
	return out
}

// umiOutliers flags cell-like barcodes whose log UMI count is an upper
// outlier. Cell-like barcodes are those within an order of magnitude of
// the ordmag baseline for cellcall.DefaultRecoveredCells cells. A
// population without spread (MAD of zero) has no outliers.
func umiOutliers(v matrix.CountView, opts Opts) map[string]bool {
	out := map[string]bool{}
	counts := v.CountsPerBarcode()
	var asc []int64
	for _, c := range counts {
		if c > 0 {
			asc = append(asc, c)
		}
	}
	if len(asc) == 0 {
		return out
	}
	sort.Slice(asc, func(i, j int) bool { return asc[i] < asc[j] })
	baseline := asc[len(asc)-1-cellcall.BaselineIndex(cellcall.DefaultRecoveredCells, len(asc))]
	cutoff := cellcall.OrdMagCutoff(baseline)

	var logs []float64
	for _, c := range asc {
		if c >= cutoff {
			logs = append(logs, math.Log10(float64(c)))
		}
	}
	med, mad := medianMAD(logs)
	if mad == 0 {
		return out
	}
	threshold := med + opts.MADMultiplier*madScale*mad
	for i, c := range counts {
		if c >= cutoff && c >= opts.MinOutlierUMIs && math.Log10(float64(c)) > threshold {
			out[v.Barcode(i)] = true
		}
	}
	return out
}

// medianMAD returns the median of x and the median absolute deviation from
// it. x must be nonempty.
func medianMAD(x []float64) (med, mad float64) {
	med = median(x)
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - med)
	}
	return med, median(dev)
}

// median averages the two middle values of an even-length x.
func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	lo := stat.Quantile(0.5, stat.Empirical, s, nil)
	if n := len(s); n%2 == 0 {
		return (lo + s[n/2]) / 2
	}
	return lo
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
