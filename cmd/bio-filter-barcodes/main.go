package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cellfilter/aggregate"
	"github.com/grailbio/cellfilter/barcode"
	"github.com/grailbio/cellfilter/cellcall"
	"github.com/grailbio/cellfilter/filterbarcodes"
	"github.com/grailbio/cellfilter/matrix"
	"github.com/grailbio/cellfilter/occupancy"
)

var (
	matrixDir        = flag.String("matrix", "", "Raw feature-barcode matrix directory (MEX); required")
	outDir           = flag.String("out", "bio-filter-barcodes", "Output directory")
	configPath       = flag.String("config", "", "Cell-calling configuration (JSON, YAML or TOML)")
	cellBarcodes     = flag.String("cell-barcodes", "", "File listing the barcodes to call as cells, one per line; overrides the configuration")
	recoveredCells   = flag.Int("recovered-cells", 0, "Expected number of cells per gem group; overrides the configuration if > 0")
	forceCells       = flag.Int("force-cells", 0, "Call exactly this many cells per gem group; overrides the configuration if > 0")
	method           = flag.String("method", "", "Cell-calling method; one of 'ordmag', 'ordmag_nonambient', 'manual', 'topn', 'gradient', 'targeted'")
	correctionTable  = flag.String("correction-table", "", "Barcode UMI-correction table (TSV); enables aggregate detection")
	perBarcodeReads  = flag.String("per-barcode-metrics", "", "Per-barcode read counts (TSV with barcode and reads columns) for the high-occupancy filter")
	probeBarcodes    = flag.String("probe-barcodes", "", "Probe barcode sample sheet (TSV with sample_id and probe_barcode_ids columns)")
	probeOffset      = flag.Int("probe-offset", 0, "Offset of the probe barcode within each barcode sequence; 0 disables probe handling")
	probeLength      = flag.Int("probe-length", 0, "Length of the probe barcode; 0 means the rest of the sequence")
	chemistry        = flag.String("chemistry", "", "Chemistry description, e.g. \"Single Cell 3' v3\"")
	targetSet        = flag.String("target-set", "", "File listing the targeted feature IDs, one per line")
	genomes          = flag.String("genomes", "", "Comma-separated reference genomes; default is the genomes of the matrix")
	antibodyOnly     = flag.Bool("antibody-only", false, "Call cells on antibody capture counts")
	spatial          = flag.Bool("spatial", false, "Spatial run; zero-target barcodes are kept")
	rtl              = flag.Bool("rtl", false, "Probe-based (RTL) targeting")
	inferThroughput  = flag.Bool("infer-throughput", false, "Search the whole barcode rank curve in the gradient and targeted methods")
	seed             = flag.Int64("seed", filterbarcodes.DefaultOpts.Seed, "Random seed")
	parallelism      = flag.Int("parallelism", filterbarcodes.DefaultOpts.Parallelism, "Maximum number of partitions called at once; 0 = runtime.NumCPU()")
	minCorrected     = flag.Float64("min-corrected-fraction", aggregate.DefaultOpts.MinCorrectedFraction, "Smallest fraction of reads with corrected UMIs that flags a barcode as an aggregate")
	simulatedGEMs    = flag.Int("simulated-gems", occupancy.DefaultOpts.SimulatedGEMs, "Number of GEMs simulated to find the high-occupancy threshold")
	occupancyQuant   = flag.Float64("occupancy-quantile", occupancy.DefaultOpts.Quantile, "Quantile of simulated probe barcodes per GEM used as the high-occupancy threshold")
	disableAggregate = flag.Bool("disable-aggregate-detection", false, "Skip antibody aggregate detection")
	disableOccupancy = flag.Bool("disable-high-occupancy-detection", false, "Skip high-occupancy GEM detection")
	writeMatrix      = flag.Bool("write-matrix", true, "Write the filtered matrix")
	compress         = flag.Bool("compress", true, "Gzip the filtered matrix files")
)

func bioFilterBarcodesUsage() {
	fmt.Printf("Usage: %s [OPTIONS] -matrix dir\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioFilterBarcodesUsage
	shutdown := grail.Init()
	defer shutdown()

	if *matrixDir == "" {
		log.Fatalf("-matrix is required")
	}
	if flag.NArg() > 0 {
		log.Fatalf("Unexpected positional arguments: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()

	m, err := matrix.ReadMEX(ctx, *matrixDir)
	if err != nil {
		log.Fatalf("%v", err)
	}
	in := filterbarcodes.Inputs{
		Matrix:          m,
		Chemistry:       cellcall.Chemistry(*chemistry),
		Layout:          barcode.Layout{ProbeOffset: *probeOffset, ProbeLength: *probeLength},
		AntibodyOnly:    *antibodyOnly,
		Spatial:         *spatial,
		RTL:             *rtl,
		InferThroughput: *inferThroughput,
	}
	if *configPath != "" {
		if in.Config, err = cellcall.LoadConfig(*configPath); err != nil {
			log.Fatalf("%v", err)
		}
	}
	if err := applyFlags(ctx, &in); err != nil {
		log.Fatalf("%v", err)
	}

	opts := filterbarcodes.DefaultOpts
	opts.Seed = *seed
	opts.Parallelism = *parallelism
	opts.Aggregate.MinCorrectedFraction = *minCorrected
	opts.Occupancy.SimulatedGEMs = *simulatedGEMs
	opts.Occupancy.Quantile = *occupancyQuant

	out, err := filterbarcodes.Run(in, opts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("called %d cell barcodes", len(out.Filtered))
	if err := filterbarcodes.WriteOutputs(ctx, *outDir, out, filterbarcodes.WriteOpts{Matrix: *writeMatrix, Compress: *compress}); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
