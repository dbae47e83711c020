// Package matrix provides a sparse feature-by-barcode UMI count matrix and
// read-only views over it. Cell calling only ever sees the CountView
// interface; CountMatrix/View is the in-memory implementation used by the
// command-line tools and tests.
package matrix

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grailbio/cellfilter/barcode"
)

// Library (feature) types.
const (
	GeneExpression      = "Gene Expression"
	AntibodyCapture     = "Antibody Capture"
	AntigenCapture      = "Antigen Capture"
	MultiplexingCapture = "Multiplexing Capture"
	CRISPRGuideCapture  = "CRISPR Guide Capture"
)

// Feature describes one row of the matrix.
type Feature struct {
	ID     string
	Name   string
	Type   string
	Genome string
	// Target is set for features in a targeted-assay panel.
	Target bool
}

// CountView is a read-only selection of a count matrix. Barcode and feature
// indices are local to the view. Select* methods never modify the receiver.
type CountView interface {
	// NumBarcodes returns the number of barcodes in the view.
	NumBarcodes() int
	// Barcode returns the sequence of the i'th barcode.
	Barcode(i int) string
	// Barcodes returns all barcode sequences, in index order.
	Barcodes() []string
	// BarcodeIndex returns the index of bc, if present.
	BarcodeIndex(bc string) (int, bool)
	// CountsPerBarcode returns the total UMI count of each barcode over the
	// selected features.
	CountsPerBarcode() []int64
	// Features returns the selected features, in index order.
	Features() []Feature
	// HasFeatureType reports whether any selected feature has type t.
	HasFeatureType(t string) bool
	// Genomes returns the distinct genomes of the selected features, sorted.
	Genomes() []string
	// TargetFeatures returns the indices of selected features flagged as
	// targets.
	TargetFeatures() []int

	SelectFeatureTypes(types ...string) CountView
	SelectGenome(genome string) CountView
	SelectFeatures(idx []int) CountView
	SelectGemGroup(gemGroup int) CountView
	SelectBarcodes(idx []int) CountView
	SelectBarcodesFunc(keep func(bc string) bool) CountView
}

// Entry is one nonzero matrix cell.
type Entry struct {
	Feature int
	Barcode int
	Count   int64
}

// CountMatrix stores counts column-major, one column per barcode.
type CountMatrix struct {
	features []Feature
	barcodes []string

	colPtr []int   // len(barcodes)+1
	rows   []int32 // feature index of each nonzero
	values []int64
}

// New builds a matrix from its nonzero entries. Entries for the same
// (feature, barcode) pair are summed.
func New(features []Feature, barcodes []string, entries []Entry) (*CountMatrix, error) {
	seen := make(map[string]bool, len(barcodes))
	for _, bc := range barcodes {
		if seen[bc] {
			return nil, fmt.Errorf("matrix: duplicate barcode %s", bc)
		}
		seen[bc] = true
	}
	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Feature < 0 || e.Feature >= len(features) || e.Barcode < 0 || e.Barcode >= len(barcodes) {
			return nil, fmt.Errorf("matrix: entry (%d, %d) out of range %dx%d", e.Feature, e.Barcode, len(features), len(barcodes))
		}
		if e.Count < 0 {
			return nil, fmt.Errorf("matrix: negative count %d at (%d, %d)", e.Count, e.Feature, e.Barcode)
		}
		if e.Count == 0 {
			continue
		}
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Barcode != sorted[j].Barcode {
			return sorted[i].Barcode < sorted[j].Barcode
		}
		return sorted[i].Feature < sorted[j].Feature
	})
	m := &CountMatrix{
		features: features,
		barcodes: barcodes,
		colPtr:   make([]int, len(barcodes)+1),
	}
	lastBarcode, lastFeature := -1, -1
	for _, e := range sorted {
		if e.Barcode == lastBarcode && e.Feature == lastFeature {
			m.values[len(m.values)-1] += e.Count
			continue
		}
		lastBarcode, lastFeature = e.Barcode, e.Feature
		m.rows = append(m.rows, int32(e.Feature))
		m.values = append(m.values, e.Count)
		m.colPtr[e.Barcode+1]++
	}
	for i := 1; i < len(m.colPtr); i++ {
		m.colPtr[i] += m.colPtr[i-1]
	}
	return m, nil
}

// NumFeatures returns the number of features in the matrix.
func (m *CountMatrix) NumFeatures() int { return len(m.features) }

// NumNonzero returns the number of stored entries.
func (m *CountMatrix) NumNonzero() int { return len(m.values) }

// Entries returns the nonzero entries restricted to the barcodes and
// features selected by v, re-indexed to v's local indices.
func (v *View) Entries() []Entry {
	global := v.globalFeatures()
	local := make(map[int32]int, len(global))
	for i, f := range global {
		local[int32(f)] = i
	}
	var out []Entry
	for i, b := range v.barcodes {
		for j := v.m.colPtr[b]; j < v.m.colPtr[b+1]; j++ {
			if f, ok := local[v.m.rows[j]]; ok {
				out = append(out, Entry{Feature: f, Barcode: i, Count: v.m.values[j]})
			}
		}
	}
	return out
}

// View returns a view over the whole matrix.
func (m *CountMatrix) View() *View {
	v := &View{m: m, barcodes: make([]int, len(m.barcodes))}
	for i := range v.barcodes {
		v.barcodes[i] = i
	}
	return v
}

// View is the CountView implementation over a CountMatrix.
type View struct {
	m *CountMatrix
	// features lists the selected global feature indices in ascending
	// order. nil selects every feature.
	features []int
	barcodes []int

	indexOnce sync.Once
	index     map[string]int
}

var _ CountView = (*View)(nil)

// Matrix returns the underlying matrix.
func (v *View) Matrix() *CountMatrix { return v.m }

func (v *View) NumBarcodes() int { return len(v.barcodes) }

func (v *View) Barcode(i int) string { return v.m.barcodes[v.barcodes[i]] }

func (v *View) Barcodes() []string {
	out := make([]string, len(v.barcodes))
	for i, b := range v.barcodes {
		out[i] = v.m.barcodes[b]
	}
	return out
}

func (v *View) BarcodeIndex(bc string) (int, bool) {
	v.indexOnce.Do(func() {
		v.index = make(map[string]int, len(v.barcodes))
		for i, b := range v.barcodes {
			v.index[v.m.barcodes[b]] = i
		}
	})
	i, ok := v.index[bc]
	return i, ok
}

func (v *View) featureMask() []bool {
	if v.features == nil {
		return nil
	}
	mask := make([]bool, len(v.m.features))
	for _, f := range v.features {
		mask[f] = true
	}
	return mask
}

func (v *View) CountsPerBarcode() []int64 {
	mask := v.featureMask()
	counts := make([]int64, len(v.barcodes))
	for i, b := range v.barcodes {
		var n int64
		for j := v.m.colPtr[b]; j < v.m.colPtr[b+1]; j++ {
			if mask == nil || mask[v.m.rows[j]] {
				n += v.m.values[j]
			}
		}
		counts[i] = n
	}
	return counts
}

func (v *View) globalFeatures() []int {
	if v.features != nil {
		return v.features
	}
	all := make([]int, len(v.m.features))
	for i := range all {
		all[i] = i
	}
	return all
}

func (v *View) Features() []Feature {
	idx := v.globalFeatures()
	out := make([]Feature, len(idx))
	for i, f := range idx {
		out[i] = v.m.features[f]
	}
	return out
}

func (v *View) HasFeatureType(t string) bool {
	for _, f := range v.globalFeatures() {
		if v.m.features[f].Type == t {
			return true
		}
	}
	return false
}

func (v *View) Genomes() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range v.globalFeatures() {
		g := v.m.features[f].Genome
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

func (v *View) TargetFeatures() []int {
	var out []int
	for i, f := range v.globalFeatures() {
		if v.m.features[f].Target {
			out = append(out, i)
		}
	}
	return out
}

func (v *View) withFeatures(keep func(f Feature) bool) *View {
	sel := []int{}
	for _, f := range v.globalFeatures() {
		if keep(v.m.features[f]) {
			sel = append(sel, f)
		}
	}
	return &View{m: v.m, features: sel, barcodes: v.barcodes}
}

func (v *View) withBarcodes(sel []int) *View {
	return &View{m: v.m, features: v.features, barcodes: sel}
}

func (v *View) SelectFeatureTypes(types ...string) CountView {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	return v.withFeatures(func(f Feature) bool { return want[f.Type] })
}

func (v *View) SelectGenome(genome string) CountView {
	return v.withFeatures(func(f Feature) bool { return f.Genome == genome })
}

func (v *View) SelectFeatures(idx []int) CountView {
	global := v.globalFeatures()
	sel := make([]int, 0, len(idx))
	for _, i := range idx {
		sel = append(sel, global[i])
	}
	sort.Ints(sel)
	return &View{m: v.m, features: sel, barcodes: v.barcodes}
}

func (v *View) SelectGemGroup(gemGroup int) CountView {
	return v.SelectBarcodesFunc(func(bc string) bool { return barcode.GemGroup(bc) == gemGroup })
}

func (v *View) SelectBarcodes(idx []int) CountView {
	sel := make([]int, len(idx))
	for i, j := range idx {
		sel[i] = v.barcodes[j]
	}
	return v.withBarcodes(sel)
}

func (v *View) SelectBarcodesFunc(keep func(bc string) bool) CountView {
	sel := []int{}
	for _, b := range v.barcodes {
		if keep(v.m.barcodes[b]) {
			sel = append(sel, b)
		}
	}
	return v.withBarcodes(sel)
}

// GemGroups returns the distinct gem groups of the barcodes in v, sorted.
func GemGroups(v CountView) []int {
	seen := map[int]bool{}
	var out []int
	for _, bc := range v.Barcodes() {
		gg := barcode.GemGroup(bc)
		if !seen[gg] {
			seen[gg] = true
			out = append(out, gg)
		}
	}
	sort.Ints(out)
	return out
}

// SelectBarcodesBySeq returns the barcodes of v that appear in bcs, in the
// order of v. Unknown sequences are ignored.
func SelectBarcodesBySeq(v CountView, bcs []string) CountView {
	want := make(map[string]bool, len(bcs))
	for _, bc := range bcs {
		want[bc] = true
	}
	return v.SelectBarcodesFunc(func(bc string) bool { return want[bc] })
}
