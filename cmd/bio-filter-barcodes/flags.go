package main

import (
	"context"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cellfilter/aggregate"
	"github.com/grailbio/cellfilter/cellcall"
	"github.com/grailbio/cellfilter/filterbarcodes"
	"github.com/grailbio/cellfilter/occupancy"
)

// applyFlags layers the command-line settings over in.Config and loads the
// auxiliary inputs named by flags.
func applyFlags(ctx context.Context, in *filterbarcodes.Inputs) error {
	var err error
	cfg := &in.Config
	if *cellBarcodes != "" {
		if cfg.CellBarcodes, err = readLines(ctx, *cellBarcodes); err != nil {
			return err
		}
	}
	if *recoveredCells > 0 {
		cfg.RecoveredCells = cellcall.PerChannel(*recoveredCells)
	}
	if *forceCells > 0 {
		cfg.ForceCells = cellcall.PerChannel(*forceCells)
	}
	if *method != "" {
		m, err := cellcall.ParseMethod(*method)
		if err != nil {
			return err
		}
		cfg.OverrideMethod = &m
	}
	if *disableAggregate {
		cfg.DisableAggregateDetection = true
	}
	if *disableOccupancy {
		cfg.DisableHighOccupancyDetection = true
	}
	if *genomes != "" {
		in.Genomes = strings.Split(*genomes, ",")
	}
	if *correctionTable != "" {
		if in.Corrections, err = aggregate.ReadCorrectionTable(ctx, *correctionTable); err != nil {
			return err
		}
	}
	if *perBarcodeReads != "" {
		if in.Reads, err = occupancy.ReadPerBarcodeMetrics(ctx, *perBarcodeReads); err != nil {
			return err
		}
	}
	if *probeBarcodes != "" {
		if in.Probes, err = readProbeDefs(ctx, *probeBarcodes, *probeOffset, *probeLength); err != nil {
			return err
		}
	}
	if *targetSet != "" {
		ids, err := readLines(ctx, *targetSet)
		if err != nil {
			return err
		}
		n := in.Matrix.MarkTargets(ids)
		log.Printf("%d of %d target features found in the matrix", n, len(ids))
	}
	return nil
}
