package cellcall

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/cellfilter/matrix"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}

func TestMethodNames(t *testing.T) {
	for _, m := range []Method{MethodManual, MethodTopN, MethodOrdMag, MethodOrdMagNonAmbient, MethodGradient, MethodTargeted} {
		got, err := ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	assert.Equal(t, "ordmag_nonambient", MethodOrdMagNonAmbient.String())
	_, err := ParseMethod("bogus")
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}

func TestValidate(t *testing.T) {
	assert.True(t, errors.Is(errors.Invalid, Validate(MethodManual, nil, nil)))
	assert.NoError(t, Validate(MethodManual, nil, []string{}))
	assert.True(t, errors.Is(errors.Invalid, Validate(MethodTopN, nil, nil)))
	assert.NoError(t, Validate(MethodTopN, PerChannel(10), nil))
	assert.NoError(t, Validate(MethodOrdMag, nil, nil))
	assert.NoError(t, Validate(MethodTargeted, nil, nil))
}

func TestSelectMethod(t *testing.T) {
	tests := []struct {
		in   SelectionInput
		want Method
	}{
		{SelectionInput{HasCellBarcodes: true, HasForceCells: true, Override: "gradient"}, MethodManual},
		{SelectionInput{HasForceCells: true, Override: "gradient"}, MethodTopN},
		{SelectionInput{Override: "gradient", AntibodyOnly: true}, MethodGradient},
		{SelectionInput{AntibodyOnly: true, Targeted: true}, MethodOrdMag},
		{SelectionInput{Targeted: true}, MethodTargeted},
		{SelectionInput{Targeted: true, RTL: true}, MethodOrdMagNonAmbient},
		{SelectionInput{}, MethodOrdMagNonAmbient},
	}
	for _, test := range tests {
		got, err := SelectMethod(test.in)
		require.NoError(t, err)
		assert.Equal(t, test.want, got, "%+v", test.in)
	}
	_, err := SelectMethod(SelectionInput{Override: "nope"})
	assert.Error(t, err)
}

func intp(v int) *int { return &v }

func TestParams(t *testing.T) {
	_, err := NewParam(&ParamSpec{PerGemWell: intp(1), PerSample: map[string]*int{"a": intp(2)}})
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)

	p, err := NewParam(&ParamSpec{PerGemWell: intp(1), PerSample: map[string]*int{"a": nil}})
	require.NoError(t, err)
	assert.Equal(t, PerChannel(1), p)

	p, err = NewParam(nil)
	require.NoError(t, err)
	assert.Nil(t, p)
	_, ok := RecoveredCells(p, "")
	assert.False(t, ok)
	assert.Equal(t, DefaultEmptyDropsMinUMIs, EmptyDropsMinUMIs(p, "a"))

	p, err = NewParam(&ParamSpec{PerSample: map[string]*int{"a": intp(100), "b": intp(200)}})
	require.NoError(t, err)
	n, ok := RecoveredCells(p, "")
	assert.True(t, ok)
	assert.Equal(t, 300, n)
	n, ok = RecoveredCells(p, "b")
	assert.True(t, ok)
	assert.Equal(t, 200, n)
	_, ok = ForceCells(p, "")
	assert.False(t, ok)
	n, ok = ForceCells(p, "a")
	assert.True(t, ok)
	assert.Equal(t, 100, n)
	assert.Equal(t, 100, EmptyDropsMinUMIs(p, "a"))
	assert.Equal(t, DefaultEmptyDropsMinUMIs, EmptyDropsMinUMIs(p, "c"))

	p = PerSample{"a": intp(100), "b": nil}
	_, ok = RecoveredCells(p, "")
	assert.False(t, ok)
	assert.Equal(t, "{a:100,b:unset}", p.(PerSample).String())
}

func TestLoadConfig(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
recovered_cells:
  per_sample:
    s1: 100
    s2: 200
force_cells:
  per_gem_well: 500
override_mode: gradient
disable_high_occupancy_gem_detection: true
`), 0644))
	c, err := LoadConfig(path)
	require.NoError(t, err)
	n, ok := RecoveredCells(c.RecoveredCells, "")
	assert.True(t, ok)
	assert.Equal(t, 300, n)
	assert.Equal(t, PerChannel(500), c.ForceCells)
	require.NotNil(t, c.OverrideMethod)
	assert.Equal(t, MethodGradient, *c.OverrideMethod)
	assert.True(t, c.DisableHighOccupancyDetection)
	assert.False(t, c.DisableAggregateDetection)
	assert.Nil(t, c.CellBarcodes)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
force_cells:
  per_gem_well: 500
  per_sample:
    s1: 10
`), 0644))
	_, err = LoadConfig(bad)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}

func TestCombine(t *testing.T) {
	a := FilterResult{Count: 100, Variance: 4, LowerBound: 96, UpperBound: 104}
	b := FilterResult{Count: 50, Variance: 1, LowerBound: 48, UpperBound: 52}
	c := FilterResult{Count: 7, Variance: 2}
	ab := a.Combine(b)
	assert.Equal(t, 150, ab.Count)
	assert.Equal(t, 5.0, ab.Variance)
	assert.InDelta(t, math.Sqrt(5)/150, ab.CV, 1e-15)
	assert.Equal(t, ab, b.Combine(a))
	assert.Equal(t, ab.Combine(c), a.Combine(b.Combine(c)))

	zero := FilterResult{}.Combine(FilterResult{})
	assert.Equal(t, 0.0, zero.CV)
	assert.Equal(t, ConstantCall(3), FilterResult{}.Combine(ConstantCall(3)))
}

func TestTopN(t *testing.T) {
	counts := []int64{1, 1, 2, 5, 5, 5, 100, 150, 200}
	call, err := TopNFilter{N: 3}.Filter(counts, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 7, 8}, call.Indices)
	assert.Equal(t, ConstantCall(3), call.Result)

	call, err = TopNFilter{N: 100}.Filter([]int64{0, 3, 0, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, call.Indices)
	assert.Equal(t, 2, call.Result.Count)

	// Ties go to the lower index.
	call, err = TopNFilter{N: 2}.Filter(counts, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8}, call.Indices)
	assert.Equal(t, []int{3, 4, 6, 7, 8}, TopIndices(counts, 5))
}

func TestOrdMagEmpty(t *testing.T) {
	f := &OrdMagFilter{}
	call, err := f.Filter([]int64{0, 0, 0}, PartitionRand(0, "x"))
	require.NoError(t, err)
	assert.Empty(t, call.Indices)
	assert.Equal(t, 0, call.Result.Count)
	assert.Equal(t, EmptyCallMessage, call.Message)
}

// cellCounts returns 300 high-count cells interleaved with 900 background
// barcodes. All counts are distinct.
func cellCounts() (counts []int64, cells map[int]bool) {
	cells = map[int]bool{}
	for i := 0; i < 900; i++ {
		counts = append(counts, int64(i+1))
		if i%3 == 0 {
			cells[len(counts)] = true
			counts = append(counts, int64(10000+17*(i/3)))
		}
	}
	return counts, cells
}

func TestOrdMag(t *testing.T) {
	counts, cells := cellCounts()
	for _, rc := range []int{0, 300} {
		f := &OrdMagFilter{RecoveredCells: rc}
		call, err := f.Filter(counts, PartitionRand(1, "gg1"))
		require.NoError(t, err)
		assert.Empty(t, call.Message)
		assert.InDelta(t, 300, call.Result.Count, 30, "rc=%d", rc)
		assert.Len(t, call.Indices, call.Result.Count)
		assert.True(t, call.Result.LowerBound <= float64(call.Result.Count))
		assert.True(t, call.Result.UpperBound >= float64(call.Result.Count))

		// Every barcode counting at least as much as a called barcode is
		// called.
		called := map[int]bool{}
		minCalled := int64(math.MaxInt64)
		for _, i := range call.Indices {
			called[i] = true
			if counts[i] < minCalled {
				minCalled = counts[i]
			}
		}
		for i, c := range counts {
			if c >= minCalled {
				assert.True(t, called[i], "barcode %d with count %d not called", i, c)
			}
		}
		if call.Result.Count <= 300 {
			for _, i := range call.Indices {
				assert.True(t, cells[i])
			}
		}
	}
}

func TestOrdMagDeterministic(t *testing.T) {
	counts, _ := cellCounts()
	f := &OrdMagFilter{}
	a, err := f.Filter(counts, PartitionRand(7, "GRCh38/1"))
	require.NoError(t, err)
	b, err := f.Filter(counts, PartitionRand(7, "GRCh38/1"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEstimateRecoveredCells(t *testing.T) {
	counts, _ := cellCounts()
	rc, loss := EstimateRecoveredCells(sortedNonzero(counts), MaxRecoveredCells, 20, PartitionRand(0, ""))
	assert.InDelta(t, 300, rc, 30)
	assert.True(t, loss >= 0)

	// Few barcodes are floored at MinRecoveredCells.
	rc, _ = EstimateRecoveredCells([]int64{1, 2, 3, 500}, MaxRecoveredCells, 5, PartitionRand(0, ""))
	assert.Equal(t, MinRecoveredCells, rc)
}

func TestBaselineIndex(t *testing.T) {
	// 50 × (1-0.99) is slightly above 0.5 in float64.
	assert.Equal(t, 1, BaselineIndex(50, 1000))
	assert.Equal(t, 30, BaselineIndex(3000, 1000))
	assert.Equal(t, 9, BaselineIndex(3000, 10))
	assert.Equal(t, int64(1), OrdMagCutoff(4))
	assert.Equal(t, int64(2), OrdMagCutoff(25))
	assert.Equal(t, int64(4), OrdMagCutoff(35))
	assert.Equal(t, 2, WithinOrdMag([]int64{1, 2, 9, 50, 100}, 0))
	assert.Equal(t, 3, WithinOrdMag([]int64{1, 2, 9, 50, 100}, 1))
}

func TestSummarizeBootstrap(t *testing.T) {
	// Ties at the cutoff are swept in.
	r := summarizeBootstrap([]float64{5, 5}, []int64{1, 2, 5, 5, 5, 5, 9, 10})
	assert.Equal(t, 6, r.Count)
	assert.Equal(t, 0.0, r.Variance)
	assert.Equal(t, 5.0, r.LowerBound)
	assert.Equal(t, 5.0, r.UpperBound)

	// Too many ties: keep the uncorrected count.
	r = summarizeBootstrap([]float64{5, 5}, []int64{5, 5, 5, 5, 5, 5, 5, 9, 10})
	assert.Equal(t, 5, r.Count)

	r = summarizeBootstrap([]float64{4, 6}, []int64{1, 2, 3, 4, 5, 6, 7})
	assert.Equal(t, 5, r.Count)
	assert.Equal(t, 1.0, r.Variance)
	assert.InDelta(t, 0.2, r.CV, 1e-12)
	assert.Equal(t, 3.0, r.LowerBound)
	assert.Equal(t, 7.0, r.UpperBound)
}

// gradientCounts returns 300 cells (counts 10000+17i) and 3000 background
// barcodes with counts 1..9.
func gradientCounts() (counts []int64, cells []int) {
	for i := 0; i < 3000; i++ {
		counts = append(counts, int64(i%9+1))
		if i%10 == 0 {
			cells = append(cells, len(counts))
			counts = append(counts, int64(10000+17*(i/10)))
		}
	}
	return counts, cells
}

func TestGradient(t *testing.T) {
	counts, cells := gradientCounts()
	f := &GradientFilter{}
	call, err := f.Filter(counts, nil)
	require.NoError(t, err)
	assert.Equal(t, cells, call.Indices)
	assert.Equal(t, ConstantCall(300), call.Result)
}

func TestGradientSingleBarcode(t *testing.T) {
	f := &GradientFilter{}
	call, err := f.Filter([]int64{0, 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, call.Indices)

	call, err = f.Filter([]int64{0, 0}, nil)
	require.NoError(t, err)
	assert.Empty(t, call.Indices)
	assert.NotEmpty(t, call.Message)
}

func TestTargetedSubsetOfGradient(t *testing.T) {
	counts, cells := gradientCounts()
	target := make([]int64, len(counts))
	var want []int
	for j, i := range cells {
		if j%2 == 0 {
			target[i] = 3
			want = append(want, i)
		}
	}
	s, err := NewStrategy(MethodTargeted, StrategyParams{TargetCounts: target})
	require.NoError(t, err)
	call, err := s.Filter(counts, nil)
	require.NoError(t, err)
	assert.Equal(t, want, call.Indices)
	assert.Equal(t, ConstantCall(150), call.Result)

	grad, err := (&GradientFilter{}).Filter(counts, nil)
	require.NoError(t, err)
	inGrad := map[int]bool{}
	for _, i := range grad.Indices {
		inGrad[i] = true
	}
	for _, i := range call.Indices {
		assert.True(t, inGrad[i])
	}

	_, err = (&TargetedFilter{TargetCounts: target[:3]}).Filter(counts, nil)
	assert.Error(t, err)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(MethodOrdMagNonAmbient, StrategyParams{RecoveredCells: 100, Chemistry: ChemistrySC3PLT})
	require.NoError(t, err)
	assert.Equal(t, &OrdMagFilter{RecoveredCells: 100, MaxExpectedCells: 4500}, s)
	s, err = NewStrategy(MethodTargeted, StrategyParams{Chemistry: ChemistrySC3PLT})
	require.NoError(t, err)
	assert.Equal(t, GradientCandidatesLT, s.(*TargetedFilter).Gradient.MaxAdditionalCells)
	s, err = NewStrategy(MethodTargeted, StrategyParams{InferThroughput: true})
	require.NoError(t, err)
	assert.True(t, s.(*TargetedFilter).Gradient.InferThroughput)
	s, err = NewStrategy(MethodGradient, StrategyParams{RecoveredCells: 50, InferThroughput: true})
	require.NoError(t, err)
	assert.Equal(t, &GradientFilter{RecoveredCells: 50, InferThroughput: true}, s)
	_, err = NewStrategy(MethodManual, StrategyParams{})
	assert.True(t, errors.Is(errors.Invalid, err))
	assert.Equal(t, MaxRecoveredCells, Chemistry("").MaxExpectedCells())
	assert.Equal(t, 45000, Chemistry("Single Cell 3' v3").MaxExpectedCells())
}

func TestFilterManual(t *testing.T) {
	m, err := matrix.New([]matrix.Feature{{ID: "g", Type: matrix.GeneExpression}},
		[]string{"AAAA", "CCCC"}, []matrix.Entry{{Feature: 0, Barcode: 0, Count: 3}})
	require.NoError(t, err)
	v := m.View()

	bcs, r, err := FilterManual(v, []string{"AAAA", "BBBB", "AAAA"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA"}, bcs)
	assert.Equal(t, ConstantCall(1), r)

	_, _, err = FilterManual(v, []string{"AAAA", "BBBB"}, true)
	require.Error(t, err)
	ibe, ok := err.(*InvalidBarcodeError)
	require.True(t, ok, "%T", err)
	assert.Equal(t, "BBBB", ibe.Barcode)

	// Barcodes with no counts are still present in the matrix.
	bcs, _, err = FilterManual(v, []string{"CCCC"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"CCCC"}, bcs)
}
