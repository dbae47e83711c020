package cellcall

import "math"

// FilterResult summarizes a cell call. Count is the number of barcodes
// selected; the remaining fields describe its uncertainty and are zero
// (with both bounds equal to Count) for deterministic calls.
type FilterResult struct {
	Count      int
	Variance   float64
	CV         float64
	LowerBound float64
	UpperBound float64
}

// ConstantCall returns the result of a deterministic call of n barcodes.
func ConstantCall(n int) FilterResult {
	return FilterResult{Count: n, LowerBound: float64(n), UpperBound: float64(n)}
}

// Combine merges the results of independent calls. Counts, variances and
// bounds add; the coefficient of variation is recomputed from the summed
// variance and count. Combine is commutative and associative.
func (r FilterResult) Combine(o FilterResult) FilterResult {
	c := FilterResult{
		Count:      r.Count + o.Count,
		Variance:   r.Variance + o.Variance,
		LowerBound: r.LowerBound + o.LowerBound,
		UpperBound: r.UpperBound + o.UpperBound,
	}
	c.CV = RobustDivide(math.Sqrt(c.Variance), float64(c.Count))
	return c
}

// RobustDivide returns a/b, or 0 when b is 0.
func RobustDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
