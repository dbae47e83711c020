// Package filterbarcodes calls the cell-associated barcodes of a count
// matrix.
//
// A run is split into chunks, one per probe-barcode sample (or a single
// chunk for runs without probe barcodes). Within a chunk, aggregate
// barcodes are removed and cells are called independently for every
// genome and gem group, optionally extended by a non-ambient test. The
// per-partition calls are then merged, overloaded GEMs removed, and the
// summary metrics assembled.
package filterbarcodes

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cellfilter/aggregate"
	"github.com/grailbio/cellfilter/barcode"
	"github.com/grailbio/cellfilter/cellcall"
	"github.com/grailbio/cellfilter/matrix"
	"github.com/grailbio/cellfilter/occupancy"
)

// Opts controls a run.
type Opts struct {
	// Seed determines every random draw of the run.
	Seed int64
	// Parallelism bounds the number of partitions processed at once. Zero
	// means runtime.NumCPU().
	Parallelism int
	Aggregate   aggregate.Opts
	// Occupancy configures the high-occupancy GEM filter. Its Layout is
	// replaced by Inputs.Layout.
	Occupancy occupancy.Opts
}

// DefaultOpts are the default run options.
var DefaultOpts = Opts{
	Aggregate: aggregate.DefaultOpts,
	Occupancy: occupancy.DefaultOpts,
}

// Inputs holds the data and settings of one run.
type Inputs struct {
	// Matrix is the raw feature-barcode matrix.
	Matrix *matrix.CountMatrix
	Config cellcall.Config
	// Chemistry is the chemistry description; empty if unknown.
	Chemistry cellcall.Chemistry
	// Layout locates probe barcodes within barcode sequences.
	Layout barcode.Layout
	// Probes lists the probe-barcode samples to call separately. If empty
	// the run is a single chunk.
	Probes []barcode.ProbeDef
	// Genomes lists the reference genomes. If empty, the genomes of the
	// features used for calling are taken from the matrix.
	Genomes []string
	// LibraryTypes lists the library types of the run. If empty, the
	// feature types of the matrix are used.
	LibraryTypes []string
	// Corrections is the barcode UMI-correction table; nil disables
	// aggregate detection.
	Corrections []aggregate.CorrectionRow
	// Reads holds the per-barcode read counts for the high-occupancy
	// filter.
	Reads occupancy.ReadCounts

	AntibodyOnly bool
	Spatial      bool
	// RTL is set when targeting is probe based rather than hybrid capture.
	RTL bool
	// InferThroughput lets the gradient and targeted methods search the
	// whole rank curve rather than starting at the ordmag baseline.
	InferThroughput bool

	// NonAmbient extends ordmag calls; if nil the extension is skipped.
	NonAmbient NonAmbientDetector
}

// Outputs is the result of Run.
type Outputs struct {
	// Filtered lists the cell barcodes of all genomes; GenomeFiltered the
	// cell barcodes per genome. Both are ordered by barcode.Layout.Compare.
	Filtered       []string
	GenomeFiltered map[string][]string
	// Groups holds the initial-call statistics of every partition.
	Groups map[GroupKey]cellcall.FilterResult
	// Summary maps metric names to numbers (and, for the occupancy
	// histogram, a map of numbers).
	Summary         map[string]interface{}
	Occupancy       occupancy.Summary
	AggregateReport []aggregate.AugmentedRow
	NonAmbientCalls []NonAmbientRow
	// FilteredMatrix selects the cell barcodes of the raw matrix, and only
	// target features for targeted runs.
	FilteredMatrix matrix.CountView
	// Checksum is the seahash of the newline-terminated Filtered barcodes.
	Checksum uint64
}

// ChecksumKey is the summary key of Outputs.Checksum, in hex.
const ChecksumKey = "filtered_bcs_checksum"

type runner struct {
	in          Inputs
	opts        Opts
	raw         matrix.CountView
	types       []string
	libTypes    []string
	genomes     []string
	targeted    bool
	hasCMO      bool
	parallelism int
	noDetector  sync.Once
}

type chunkResult struct {
	groups     []GroupResult
	summary    map[string]float64
	aggregates []aggregate.AugmentedRow
	nonAmbient []NonAmbientRow
}

// Run calls the cells of in.
func Run(in Inputs, opts Opts) (*Outputs, error) {
	if in.Matrix == nil {
		return nil, errors.E(errors.Invalid, "filterbarcodes: no matrix")
	}
	r := &runner{
		in:          in,
		opts:        opts,
		raw:         in.Matrix.View(),
		parallelism: opts.Parallelism,
	}
	if r.parallelism <= 0 {
		r.parallelism = runtime.NumCPU()
	}
	r.types = featureTypes(in)
	r.libTypes = in.LibraryTypes
	if len(r.libTypes) == 0 {
		r.libTypes = libraryTypes(r.raw)
	}
	r.genomes = in.Genomes
	if len(r.genomes) == 0 {
		r.genomes = r.raw.SelectFeatureTypes(r.types...).Genomes()
	}
	r.targeted = len(r.raw.TargetFeatures()) > 0
	r.hasCMO = r.raw.HasFeatureType(matrix.MultiplexingCapture)

	probes := make([]*barcode.ProbeDef, len(in.Probes))
	for i := range in.Probes {
		probes[i] = &in.Probes[i]
	}
	if len(probes) == 0 {
		probes = []*barcode.ProbeDef{nil}
	}
	chunks := make([]chunkResult, len(probes))
	err := traverse.Limit(r.parallelism).Each(len(probes), func(i int) (err error) {
		chunks[i], err = r.callChunk(probes[i])
		return
	})
	if err != nil {
		return nil, err
	}
	return r.join(chunks)
}

func featureTypes(in Inputs) []string {
	switch {
	case len(in.Config.OverrideLibraryTypes) > 0:
		return in.Config.OverrideLibraryTypes
	case in.AntibodyOnly:
		return []string{matrix.AntibodyCapture}
	}
	return []string{matrix.GeneExpression}
}

func libraryTypes(v matrix.CountView) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range v.Features() {
		if !seen[f.Type] {
			seen[f.Type] = true
			out = append(out, f.Type)
		}
	}
	sort.Strings(out)
	return out
}

// partition is one (genome, gem group) slice of a chunk.
type partition struct {
	genome   string
	gemGroup int
	view     matrix.CountView
}

func (r *runner) callChunk(probe *barcode.ProbeDef) (chunkResult, error) {
	var (
		cfg       = r.in.Config
		v         = r.raw
		sample    string
		numProbes int
		rows      = r.in.Corrections
	)
	if probe != nil {
		sample = probe.SampleID
		numProbes = len(probe.Sequences)
		if !probe.MatchesAll() {
			keep := probe.Selector()
			v = v.SelectBarcodesFunc(keep)
			rows = nil
			for _, row := range r.in.Corrections {
				if keep(row.Barcode) {
					rows = append(rows, row)
				}
			}
		}
	}

	recovered, hasRecovered := cellcall.RecoveredCells(cfg.RecoveredCells, sample)
	force, hasForce := cellcall.ForceCells(cfg.ForceCells, sample)
	sel := cellcall.SelectionInput{
		HasCellBarcodes: cfg.CellBarcodes != nil,
		HasForceCells:   hasForce,
		AntibodyOnly:    r.in.AntibodyOnly,
		Targeted:        r.targeted,
		RTL:             r.in.RTL,
	}
	if cfg.OverrideMethod != nil {
		sel.Override = cfg.OverrideMethod.String()
	}
	method, err := cellcall.SelectMethod(sel)
	if err != nil {
		return chunkResult{}, err
	}
	if err := cellcall.Validate(method, cfg.ForceCells, cfg.CellBarcodes); err != nil {
		return chunkResult{}, err
	}
	log.Printf("filterbarcodes: sample %q: method %v, %d barcodes", sample, method, v.NumBarcodes())

	res := chunkResult{summary: map[string]float64{}}
	if method != cellcall.MethodManual && aggregate.HasLibraryType(rows, matrix.AntibodyCapture, matrix.AntigenCapture) {
		agg := aggregate.Detect(v, rows, r.libTypes, r.opts.Aggregate)
		if !cfg.DisableAggregateDetection {
			v = aggregate.Remove(v, agg.Barcodes)
		}
		for k, x := range agg.Metrics {
			res.summary[k] += x
		}
		res.aggregates = agg.Report
	}
	res.summary[totalDiversityKey(sample)] = float64(v.NumBarcodes())

	gemGroups := matrix.GemGroups(v)
	var ggRecovered, ggForce int
	switch {
	case hasRecovered && len(gemGroups) > 0:
		ggRecovered = recovered / len(gemGroups)
	case method != cellcall.MethodOrdMag && method != cellcall.MethodOrdMagNonAmbient:
		ggRecovered = cellcall.DefaultRecoveredCells
	}
	if hasForce && len(gemGroups) > 0 {
		ggForce = force / len(gemGroups)
	}

	typed := v.SelectFeatureTypes(r.types...)
	var parts []partition
	for _, genome := range r.genomes {
		gv := typed.SelectGenome(genome)
		for _, gg := range gemGroups {
			parts = append(parts, partition{genome, gg, gv.SelectGemGroup(gg)})
		}
	}
	res.groups = make([]GroupResult, len(parts))
	err = traverse.Limit(r.parallelism).Each(len(parts), func(i int) (err error) {
		p := parts[i]
		key := GroupKey{GemGroup: p.gemGroup, Genome: p.genome, Sample: sample, Method: method.String()}
		res.groups[i], err = r.callPartition(key, method, p.view, ggRecovered, ggForce)
		return
	})
	if err != nil {
		return chunkResult{}, err
	}

	if method == cellcall.MethodOrdMagNonAmbient {
		if r.in.NonAmbient == nil {
			r.noDetector.Do(func() {
				log.Printf("filterbarcodes: no non-ambient detector configured; keeping initial calls")
			})
		} else {
			params := NonAmbientParams{
				MinUMIs:          cellcall.EmptyDropsMinUMIs(cfg.EmptyDropsMinimumUMIs, sample),
				NumProbeBarcodes: numProbes,
			}
			if err := r.extendNonAmbient(&res, parts, params); err != nil {
				return chunkResult{}, err
			}
		}
	}
	return res, nil
}

func (r *runner) callPartition(key GroupKey, method cellcall.Method, v matrix.CountView, recovered, force int) (GroupResult, error) {
	g := GroupResult{Key: key}
	if method == cellcall.MethodManual {
		var list []string
		for _, bc := range r.in.Config.CellBarcodes {
			if barcode.GemGroup(bc) == key.GemGroup {
				list = append(list, bc)
			}
		}
		var err error
		g.Barcodes, g.Result, err = cellcall.FilterManual(v, list, r.hasCMO)
		return g, err
	}
	params := cellcall.StrategyParams{
		RecoveredCells:  recovered,
		ForceCells:      force,
		Chemistry:       r.in.Chemistry,
		InferThroughput: r.in.InferThroughput,
	}
	if method == cellcall.MethodTargeted {
		params.TargetCounts = v.SelectFeatures(v.TargetFeatures()).CountsPerBarcode()
	}
	s, err := cellcall.NewStrategy(method, params)
	if err != nil {
		return g, err
	}
	call, err := s.Filter(v.CountsPerBarcode(), cellcall.PartitionRand(r.opts.Seed, key.String()))
	if err != nil {
		return g, errors.E(err, fmt.Sprintf("calling cells of %v", key))
	}
	if call.Message != "" {
		log.Printf("filterbarcodes: %v: %s", key, call.Message)
	}
	g.Result = call.Result
	g.Barcodes = make([]string, len(call.Indices))
	for i, idx := range call.Indices {
		g.Barcodes[i] = v.Barcode(idx)
	}
	log.Debug.Printf("filterbarcodes: %v: %d cells (%.0f-%.0f)", key, len(g.Barcodes), call.Result.LowerBound, call.Result.UpperBound)
	return g, nil
}

// extendNonAmbient adds the non-ambient barcodes of each partition to its
// call. The candidates of a partition exclude the initial calls of its gem
// group in every genome, in barcode order.
func (r *runner) extendNonAmbient(res *chunkResult, parts []partition, params NonAmbientParams) error {
	byGemGroup := map[int][]string{}
	for _, g := range res.groups {
		byGemGroup[g.Key.GemGroup] = barcode.SortedUnion(r.in.Layout, byGemGroup[g.Key.GemGroup], g.Barcodes)
	}

	type extension struct {
		rows   []NonAmbientRow
		called []string
	}
	exts := make([]extension, len(parts))
	err := traverse.Limit(r.parallelism).Each(len(parts), func(i int) error {
		p := parts[i]
		out, err := r.in.NonAmbient.FindNonAmbient(p.view, byGemGroup[p.gemGroup], r.in.Chemistry, params)
		if err != nil {
			return errors.E(err, fmt.Sprintf("non-ambient calling of gem group %d, genome %q", p.gemGroup, p.genome))
		}
		if out == nil {
			log.Printf("filterbarcodes: non-ambient calling failed for gem group %d, genome %q; keeping the initial call", p.gemGroup, p.genome)
			return nil
		}
		if err := out.validate(p.view.NumBarcodes()); err != nil {
			return err
		}
		exts[i].rows, exts[i].called = nonAmbientRows(p.view, p.genome, out)
		return nil
	})
	if err != nil {
		return err
	}
	for i, e := range exts {
		res.groups[i].Barcodes = append(res.groups[i].Barcodes, e.called...)
		res.nonAmbient = append(res.nonAmbient, e.rows...)
	}
	return nil
}

func (r *runner) join(chunks []chunkResult) (*Outputs, error) {
	var groups []GroupResult
	sums := map[string]float64{}
	out := &Outputs{Summary: map[string]interface{}{}}
	for _, c := range chunks {
		groups = append(groups, c.groups...)
		for k, v := range c.summary {
			sums[k] += v
		}
		out.AggregateReport = append(out.AggregateReport, c.aggregates...)
		out.NonAmbientCalls = append(out.NonAmbientCalls, c.nonAmbient...)
	}
	out.AggregateReport = dedupeReport(out.AggregateReport)
	for k, v := range sums {
		out.Summary[k] = v
	}

	var err error
	if out.Groups, err = MergeResults(groups); err != nil {
		return nil, err
	}
	out.Filtered, out.GenomeFiltered = mergeBarcodes(r.in.Layout, groups)

	if r.in.Layout.HasProbe() && !r.in.Config.DisableHighOccupancyDetection {
		opts := r.opts.Occupancy
		opts.Layout = r.in.Layout
		out.Filtered, out.GenomeFiltered, out.Occupancy = occupancy.Filter(
			out.Filtered, out.GenomeFiltered, r.in.Reads, opts, cellcall.PartitionRand(r.opts.Seed, "high_occupancy"))
	}

	if r.targeted && !r.in.Spatial {
		var removed int
		out.Filtered, out.GenomeFiltered, removed = removeZeroTargeted(r.raw, out.Filtered, out.GenomeFiltered)
		out.Summary["cell_bcs_removed_with_zero_targeted_umis"] = removed
	}
	out.FilteredMatrix = matrix.SelectBarcodesBySeq(r.raw, out.Filtered)
	if r.targeted {
		out.FilteredMatrix = out.FilteredMatrix.SelectFeatures(out.FilteredMatrix.TargetFeatures())
	}

	methodKeys(out.Summary, out.Groups)
	combineMetrics(out.Summary, r.genomes, out.Groups, out.GenomeFiltered)
	for k, v := range out.Occupancy.Metrics() {
		out.Summary[k] = v
	}

	h := seahash.New()
	for _, bc := range out.Filtered {
		h.Write([]byte(bc))
		h.Write([]byte{'\n'})
	}
	out.Checksum = h.Sum64()
	out.Summary[ChecksumKey] = fmt.Sprintf("%016x", out.Checksum)
	log.Printf("filterbarcodes: %d cell barcodes, checksum %016x", len(out.Filtered), out.Checksum)
	return out, nil
}

// removeZeroTargeted drops barcodes without any target-feature UMI and
// returns the number dropped from filtered.
func removeZeroTargeted(v matrix.CountView, filtered []string, genomeFiltered map[string][]string) ([]string, map[string][]string, int) {
	tv := v.SelectFeatures(v.TargetFeatures())
	zero := map[string]bool{}
	for i, c := range tv.CountsPerBarcode() {
		if c == 0 {
			zero[tv.Barcode(i)] = true
		}
	}
	keep := func(bcs []string) []string {
		out := make([]string, 0, len(bcs))
		for _, bc := range bcs {
			if !zero[bc] {
				out = append(out, bc)
			}
		}
		return out
	}
	out := keep(filtered)
	genomes := make(map[string][]string, len(genomeFiltered))
	for g, bcs := range genomeFiltered {
		genomes[g] = keep(bcs)
	}
	return out, genomes, len(filtered) - len(out)
}

func dedupeReport(rows []aggregate.AugmentedRow) []aggregate.AugmentedRow {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Barcode != rows[j].Barcode {
			return rows[i].Barcode < rows[j].Barcode
		}
		return rows[i].LibraryType < rows[j].LibraryType
	})
	var out []aggregate.AugmentedRow
	for i, row := range rows {
		if i > 0 && row.CorrectionRow == rows[i-1].CorrectionRow {
			continue
		}
		out = append(out, row)
	}
	return out
}
