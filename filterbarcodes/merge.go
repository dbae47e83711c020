package filterbarcodes

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cellfilter/barcode"
	"github.com/grailbio/cellfilter/cellcall"
)

// GroupKey identifies the statistics of one partition. Sample is empty for
// runs without probe-barcode samples.
type GroupKey struct {
	GemGroup int
	Genome   string
	Sample   string
	Method   string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%d/%s/%s/%s", k.GemGroup, k.Genome, k.Sample, k.Method)
}

// metricPrefix returns the summary-key prefix of the group's statistics,
// without the genome.
func (k GroupKey) metricPrefix() string {
	p := "gem_group_" + strconv.Itoa(k.GemGroup)
	if k.Sample != "" {
		p += "_" + k.Sample
	}
	return p
}

// GroupResult is the cell call of one partition.
type GroupResult struct {
	Key      GroupKey
	Result   cellcall.FilterResult
	Barcodes []string
}

// MergeResults collects the results of all partitions by key. Keys must be
// unique.
func MergeResults(groups []GroupResult) (map[GroupKey]cellcall.FilterResult, error) {
	out := make(map[GroupKey]cellcall.FilterResult, len(groups))
	for _, g := range groups {
		if _, ok := out[g.Key]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("duplicate partition %v", g.Key))
		}
		out[g.Key] = g.Result
	}
	return out, nil
}

// mergeBarcodes returns the union of all called barcodes and the union per
// genome, each deduplicated and ordered under layout.
func mergeBarcodes(layout barcode.Layout, groups []GroupResult) ([]string, map[string][]string) {
	all := barcode.NewSet(layout)
	perGenome := map[string]*barcode.Set{}
	for _, g := range groups {
		all.Add(g.Barcodes...)
		s, ok := perGenome[g.Key.Genome]
		if !ok {
			s = barcode.NewSet(layout)
			perGenome[g.Key.Genome] = s
		}
		s.Add(g.Barcodes...)
	}
	out := make(map[string][]string, len(perGenome))
	for genome, s := range perGenome {
		out[genome] = s.Sorted()
	}
	return all.Sorted(), out
}

// groupMetrics returns the per-group statistics of r under key, as in
// "gem_group_1_ordmag" style keys: filtered_bcs, filtered_bcs_var,
// filtered_bcs_cv, filtered_bcs_lb and filtered_bcs_ub.
func groupMetrics(key GroupKey, r cellcall.FilterResult) map[string]float64 {
	p := key.metricPrefix()
	return map[string]float64{
		p + "_filtered_bcs_" + key.Method:     float64(r.Count),
		p + "_filtered_bcs_var_" + key.Method: r.Variance,
		p + "_filtered_bcs_cv_" + key.Method:  r.CV,
		p + "_filtered_bcs_lb_" + key.Method:  r.LowerBound,
		p + "_filtered_bcs_ub_" + key.Method:  r.UpperBound,
	}
}

// combineMetrics adds, for each genome, the statistics of every group of
// that genome, the coefficient of variation of the combined call, and the
// final number of cells of the genome.
func combineMetrics(summary map[string]interface{}, genomes []string, results map[GroupKey]cellcall.FilterResult, genomeFiltered map[string][]string) {
	keys := make([]GroupKey, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, genome := range genomes {
		prefix := ""
		if genome != "" {
			prefix = genome + "_"
		}
		var combined cellcall.FilterResult
		for _, k := range keys {
			if k.Genome != genome {
				continue
			}
			for name, v := range groupMetrics(k, results[k]) {
				summary[prefix+name] = v
			}
			combined = combined.Combine(results[k])
		}
		summary[prefix+"filtered_bcs_cv"] = combined.CV
		summary[prefix+"filtered_bcs"] = len(genomeFiltered[genome])
	}
}

// methodKeys records the method used for each sample.
func methodKeys(summary map[string]interface{}, results map[GroupKey]cellcall.FilterResult) {
	for k := range results {
		if k.Sample != "" {
			summary[k.Sample+"_filter_barcodes_method"] = k.Method
		} else {
			summary["filter_barcodes_method"] = k.Method
		}
	}
}

func totalDiversityKey(sample string) string {
	if sample != "" {
		return sample + "_total_diversity"
	}
	return "total_diversity"
}
