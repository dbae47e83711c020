// Package barcode parses cell-barcode sequences of the form
// <sequence>-<gem group> and, for probe-multiplexed chemistries, splits the
// sequence into a GEM partition identifier and a probe barcode (tag).
package barcode

import (
	"strconv"
	"strings"
)

// DefaultGemGroup is the gem group of barcodes that carry no "-N" suffix.
const DefaultGemGroup = 1

// Split splits bc into its sequence and gem group. A barcode without a
// numeric "-N" suffix belongs to DefaultGemGroup.
func Split(bc string) (seq string, gemGroup int) {
	i := strings.LastIndexByte(bc, '-')
	if i < 0 {
		return bc, DefaultGemGroup
	}
	gg, err := strconv.Atoi(bc[i+1:])
	if err != nil {
		return bc, DefaultGemGroup
	}
	return bc[:i], gg
}

// GemGroup returns the gem group of bc.
func GemGroup(bc string) int {
	_, gg := Split(bc)
	return gg
}

// Join is the inverse of Split.
func Join(seq string, gemGroup int) string {
	return seq + "-" + strconv.Itoa(gemGroup)
}

// Layout describes where a probe barcode lives inside a barcode sequence.
// The zero Layout describes a chemistry without probe barcodes.
type Layout struct {
	// ProbeOffset is the start of the probe barcode within the sequence.
	// Values <= 0 mean the barcode has no probe segment.
	ProbeOffset int
	// ProbeLength is the probe barcode length. 0 means "until the end of
	// the sequence".
	ProbeLength int
}

// HasProbe reports whether barcodes under l carry a probe barcode.
func (l Layout) HasProbe() bool { return l.ProbeOffset > 0 }

// Partition returns the GEM partition part of bc. Without a probe segment
// this is the whole sequence.
func (l Layout) Partition(bc string) string {
	seq, _ := Split(bc)
	if !l.HasProbe() || l.ProbeOffset > len(seq) {
		return seq
	}
	return seq[:l.ProbeOffset]
}

// Tag returns the probe barcode of bc, or "" if l has no probe segment.
func (l Layout) Tag(bc string) string {
	seq, _ := Split(bc)
	if !l.HasProbe() || l.ProbeOffset > len(seq) {
		return ""
	}
	end := len(seq)
	if l.ProbeLength > 0 && l.ProbeOffset+l.ProbeLength < end {
		end = l.ProbeOffset + l.ProbeLength
	}
	return seq[l.ProbeOffset:end]
}

// Compare orders two barcodes by gem group, then probe tag, then partition
// sequence. Barcodes equal under all three fall back to plain string order
// so that the order is total.
func (l Layout) Compare(a, b string) int {
	if a == b {
		return 0
	}
	if d := GemGroup(a) - GemGroup(b); d != 0 {
		return d
	}
	if d := strings.Compare(l.Tag(a), l.Tag(b)); d != 0 {
		return d
	}
	if d := strings.Compare(l.Partition(a), l.Partition(b)); d != 0 {
		return d
	}
	return strings.Compare(a, b)
}

// ProbeDef lists the probe barcodes that belong to one multiplexed sample.
type ProbeDef struct {
	SampleID  string
	Sequences []string
	Offset    int
	Length    int
}

// AllProbes is the single-entry sequence list that selects every probe
// barcode.
const AllProbes = "all"

// MatchesAll reports whether d selects every barcode.
func (d ProbeDef) MatchesAll() bool {
	return len(d.Sequences) == 1 && d.Sequences[0] == AllProbes
}

// Layout returns the barcode layout described by d.
func (d ProbeDef) Layout() Layout {
	return Layout{ProbeOffset: d.Offset, ProbeLength: d.Length}
}

// Selector returns a predicate that reports whether a barcode's probe
// segment belongs to d.
func (d ProbeDef) Selector() func(bc string) bool {
	if d.MatchesAll() {
		return func(string) bool { return true }
	}
	seqs := make(map[string]bool, len(d.Sequences))
	for _, s := range d.Sequences {
		seqs[s] = true
	}
	layout := d.Layout()
	return func(bc string) bool {
		return seqs[layout.Tag(bc)]
	}
}
