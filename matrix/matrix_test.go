package matrix

import (
	"context"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatrix(t *testing.T) *CountMatrix {
	features := []Feature{
		{ID: "g1", Name: "G1", Type: GeneExpression, Genome: "GRCh38", Target: true},
		{ID: "g2", Name: "G2", Type: GeneExpression, Genome: "mm10"},
		{ID: "ab1", Name: "CD3", Type: AntibodyCapture},
	}
	barcodes := []string{"AAAA-1", "CCCC-1", "GGGG-2", "TTTT-2"}
	m, err := New(features, barcodes, []Entry{
		{0, 0, 5}, {1, 0, 1}, {2, 0, 7},
		{0, 1, 2}, {0, 1, 3},
		{1, 2, 4},
		{2, 3, 9}, {0, 3, 0},
	})
	require.NoError(t, err)
	return m
}

func TestCountsPerBarcode(t *testing.T) {
	v := testMatrix(t).View()
	assert.Equal(t, []int64{13, 5, 4, 9}, v.CountsPerBarcode())
	assert.Equal(t, []int64{6, 5, 4, 0}, v.SelectFeatureTypes(GeneExpression).CountsPerBarcode())
	assert.Equal(t, []int64{5, 5, 0, 0}, v.SelectGenome("GRCh38").CountsPerBarcode())
	assert.Equal(t, []string{"", "GRCh38", "mm10"}, v.Genomes())
}

func TestSelectBarcodes(t *testing.T) {
	v := testMatrix(t).View()
	gg2 := v.SelectGemGroup(2)
	assert.Equal(t, []string{"GGGG-2", "TTTT-2"}, gg2.Barcodes())
	assert.Equal(t, []int64{4, 9}, gg2.CountsPerBarcode())
	assert.Equal(t, []int{1, 2}, GemGroups(v))

	sub := v.SelectBarcodes([]int{3, 0})
	assert.Equal(t, []string{"TTTT-2", "AAAA-1"}, sub.Barcodes())
	i, ok := sub.BarcodeIndex("AAAA-1")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = sub.BarcodeIndex("CCCC-1")
	assert.False(t, ok)

	bySeq := SelectBarcodesBySeq(v, []string{"CCCC-1", "NNNN-1", "AAAA-1"})
	assert.Equal(t, []string{"AAAA-1", "CCCC-1"}, bySeq.Barcodes())
}

func TestTargetFeatures(t *testing.T) {
	v := testMatrix(t).View()
	assert.Equal(t, []int{0}, v.TargetFeatures())
	gex := v.SelectFeatureTypes(GeneExpression)
	assert.Equal(t, []int64{5, 5, 0, 0}, gex.SelectFeatures(gex.TargetFeatures()).CountsPerBarcode())
	assert.True(t, v.HasFeatureType(AntibodyCapture))
	assert.False(t, gex.HasFeatureType(AntibodyCapture))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New([]Feature{{ID: "a"}}, []string{"A-1", "A-1"}, nil)
	assert.Error(t, err)
	_, err = New([]Feature{{ID: "a"}}, []string{"A-1"}, []Entry{{Feature: 1, Barcode: 0, Count: 1}})
	assert.Error(t, err)
	_, err = New([]Feature{{ID: "a"}}, []string{"A-1"}, []Entry{{Feature: 0, Barcode: 0, Count: -1}})
	assert.Error(t, err)
}

func TestMEXRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	for _, compress := range []bool{false, true} {
		v := testMatrix(t).View()
		require.NoError(t, WriteMEX(ctx, tempDir, v, compress))
		m, err := ReadMEX(ctx, tempDir)
		require.NoError(t, err)
		got := m.View()
		assert.Equal(t, v.Barcodes(), got.Barcodes())
		assert.Equal(t, v.Features(), got.Features())
		assert.Equal(t, v.CountsPerBarcode(), got.CountsPerBarcode())
		assert.Equal(t, 6, m.NumNonzero())
	}
}

func TestMarkTargets(t *testing.T) {
	m := testMatrix(t)
	assert.Equal(t, 1, m.MarkTargets([]string{"g2", "missing"}))
	assert.Equal(t, []int{0, 1}, m.View().TargetFeatures())
}
