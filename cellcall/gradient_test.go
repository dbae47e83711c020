package cellcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// throughputCounts has 100 cells far above 2000 barcodes that all lie
// within an order of magnitude of the baseline.
func throughputCounts() []int64 {
	var counts []int64
	for i := 0; i < 100; i++ {
		counts = append(counts, int64(10000+i))
	}
	for i := 0; i < 2000; i++ {
		counts = append(counts, int64(1000+i))
	}
	return counts
}

func TestGradientInferThroughput(t *testing.T) {
	counts := throughputCounts()
	for _, test := range []struct {
		infer    bool
		min, max int
	}{
		// The call never stops above the order-of-magnitude floor.
		{false, 2093, 2100},
		// The search starts at rank 0 and finds the drop after the cells.
		{true, 1, 499},
	} {
		s, err := NewStrategy(MethodGradient, StrategyParams{InferThroughput: test.infer})
		require.NoError(t, err)
		call, err := s.Filter(counts, nil)
		require.NoError(t, err, "infer=%v", test.infer)
		n := len(call.Indices)
		assert.True(t, n >= test.min && n <= test.max, "infer=%v: %d cells", test.infer, n)
		assert.Equal(t, ConstantCall(n), call.Result)
	}
}
