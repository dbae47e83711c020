package cellcall

// Chemistry is a chemistry description, e.g. "Single Cell 3' v3". The
// empty Chemistry is unknown.
type Chemistry string

// Chemistries with non-default partition counts.
const (
	ChemistrySC3PLT Chemistry = "Single Cell 3' v3 LT"
	ChemistrySC3PHT Chemistry = "Single Cell 3' v3.1 HT"
	ChemistrySC5PHT Chemistry = "Single Cell 5' HT"
)

// Partitions returns the approximate number of partitions an instrument
// run of c generates.
func (c Chemistry) Partitions() int {
	switch c {
	case ChemistrySC3PLT:
		return 9000
	case ChemistrySC3PHT, ChemistrySC5PHT:
		return 160000
	}
	return 90000
}

// EmptyDropsRange returns the range of barcode ranks [lo, hi) treated as
// ambient when estimating the background profile.
func (c Chemistry) EmptyDropsRange() (lo, hi int) {
	n := c.Partitions()
	return n / 2, n
}

// IsLT reports whether c is the low-throughput chemistry.
func (c Chemistry) IsLT() bool { return c == ChemistrySC3PLT }

// MaxExpectedCells returns the largest recovered-cell count considered when
// inferring it for c.
func (c Chemistry) MaxExpectedCells() int {
	if c == "" {
		return MaxRecoveredCells
	}
	lo, _ := c.EmptyDropsRange()
	if lo < MaxRecoveredCells {
		return lo
	}
	return MaxRecoveredCells
}

// GradientCandidates returns the maximum number of barcodes beyond the
// ordmag baseline that the gradient method considers for c.
func (c Chemistry) GradientCandidates() int {
	if c.IsLT() {
		return GradientCandidatesLT
	}
	return GradientCandidatesDefault
}
