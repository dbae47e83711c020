package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cellfilter/cellcall"
	"github.com/grailbio/cellfilter/filterbarcodes"
	"github.com/grailbio/cellfilter/matrix"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFlags(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	targets := filepath.Join(dir, "targets.txt")
	require.NoError(t, os.WriteFile(targets, []byte("g2\nmissing\n"), 0644))

	m, err := matrix.New([]matrix.Feature{
		{ID: "g1", Type: matrix.GeneExpression, Genome: "GRCh38"},
		{ID: "g2", Type: matrix.GeneExpression, Genome: "GRCh38"},
	}, []string{"AAAA-1"}, []matrix.Entry{{Feature: 1, Barcode: 0, Count: 3}})
	require.NoError(t, err)

	*forceCells = 10
	*method = "topn"
	*genomes = "GRCh38,mm10"
	*targetSet = targets
	*disableOccupancy = true
	defer func() {
		*forceCells, *method, *genomes, *targetSet, *disableOccupancy = 0, "", "", "", false
	}()

	in := filterbarcodes.Inputs{Matrix: m}
	require.NoError(t, applyFlags(context.Background(), &in))
	assert.Equal(t, cellcall.PerChannel(10), in.Config.ForceCells)
	require.NotNil(t, in.Config.OverrideMethod)
	assert.Equal(t, cellcall.MethodTopN, *in.Config.OverrideMethod)
	assert.Nil(t, in.Config.RecoveredCells)
	assert.True(t, in.Config.DisableHighOccupancyDetection)
	assert.False(t, in.Config.DisableAggregateDetection)
	assert.Equal(t, []string{"GRCh38", "mm10"}, in.Genomes)
	assert.Equal(t, []int{1}, m.View().TargetFeatures())

	*method = "best"
	err = applyFlags(context.Background(), &filterbarcodes.Inputs{Matrix: m})
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}
