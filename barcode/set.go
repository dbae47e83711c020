package barcode

import (
	"github.com/biogo/store/llrb"
)

type setEntry struct {
	bc     string
	layout *Layout
}

// Compare implements llrb.Comparable.
func (e setEntry) Compare(c llrb.Comparable) int {
	return e.layout.Compare(e.bc, c.(setEntry).bc)
}

// Set is an ordered set of barcodes. Iteration order is the order defined
// by Layout.Compare, independent of insertion order.
//
// Set is not thread safe.
type Set struct {
	layout Layout
	tree   llrb.Tree
}

// NewSet creates an empty set ordered under layout.
func NewSet(layout Layout) *Set {
	return &Set{layout: layout}
}

// Add inserts the given barcodes.
func (s *Set) Add(bcs ...string) {
	for _, bc := range bcs {
		s.tree.Insert(setEntry{bc: bc, layout: &s.layout})
	}
}

// Contains reports whether bc is in s.
func (s *Set) Contains(bc string) bool {
	return s.tree.Get(setEntry{bc: bc, layout: &s.layout}) != nil
}

// Len returns the number of barcodes in s.
func (s *Set) Len() int { return s.tree.Len() }

// Sorted returns the members of s in order.
func (s *Set) Sorted() []string {
	out := make([]string, 0, s.tree.Len())
	s.tree.Do(func(c llrb.Comparable) bool {
		out = append(out, c.(setEntry).bc)
		return false
	})
	return out
}

// SortedUnion returns the deduplicated, ordered union of the given lists.
func SortedUnion(layout Layout, lists ...[]string) []string {
	s := NewSet(layout)
	for _, l := range lists {
		s.Add(l...)
	}
	return s.Sorted()
}
