package cellcall

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
)

// Param is a cell-calling parameter given either for a whole channel
// (PerChannel) or per multiplexed sample (PerSample). A nil Param is unset.
type Param interface {
	isParam()
}

// PerChannel applies one value to every sample of a gem group.
type PerChannel int

// PerSample maps sample IDs to values. A nil value is unset for that sample.
type PerSample map[string]*int

func (PerChannel) isParam() {}
func (PerSample) isParam()  {}

// ParamSpec is the serialized form of a Param. At most one of the two
// fields may be populated.
type ParamSpec struct {
	PerGemWell *int           `mapstructure:"per_gem_well" json:"per_gem_well,omitempty"`
	PerSample  map[string]*int `mapstructure:"per_sample" json:"per_sample,omitempty"`
}

// NewParam validates spec and converts it to a Param. A per-sample map whose
// values are all unset counts as unpopulated.
func NewParam(spec *ParamSpec) (Param, error) {
	if spec == nil {
		return nil, nil
	}
	populated := false
	for _, v := range spec.PerSample {
		if v != nil {
			populated = true
			break
		}
	}
	switch {
	case spec.PerGemWell != nil && populated:
		return nil, errors.E(errors.Invalid, "cell-calling parameter sets both per_gem_well and per_sample")
	case spec.PerGemWell != nil:
		return PerChannel(*spec.PerGemWell), nil
	case spec.PerSample != nil:
		return PerSample(spec.PerSample), nil
	}
	return nil, nil
}

// String implements fmt.Stringer.
func (p PerSample) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		if v := p[k]; v != nil {
			parts[i] = fmt.Sprintf("%s:%d", k, *v)
		} else {
			parts[i] = k + ":unset"
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// RecoveredCells returns the expected number of recovered cells. With no
// sample, a per-sample parameter yields the sum over all samples, which is
// unset if any sample is unset.
func RecoveredCells(p Param, sample string) (int, bool) {
	switch p := p.(type) {
	case PerChannel:
		return int(p), true
	case PerSample:
		if sample != "" {
			return p.get(sample)
		}
		total := 0
		for _, v := range p {
			if v == nil {
				return 0, false
			}
			total += *v
		}
		return total, true
	}
	return 0, false
}

// ForceCells returns the forced number of cells for sample, or for the
// whole channel if sample is empty.
func ForceCells(p Param, sample string) (int, bool) {
	switch p := p.(type) {
	case PerChannel:
		return int(p), true
	case PerSample:
		if sample != "" {
			return p.get(sample)
		}
	}
	return 0, false
}

// EmptyDropsMinUMIs returns the minimum UMI count for non-ambient
// candidates, defaulting to DefaultEmptyDropsMinUMIs.
func EmptyDropsMinUMIs(p Param, sample string) int {
	switch p := p.(type) {
	case PerChannel:
		return int(p)
	case PerSample:
		if v, ok := p.get(sample); ok && sample != "" && v != 0 {
			return v
		}
	}
	return DefaultEmptyDropsMinUMIs
}

func (p PerSample) get(sample string) (int, bool) {
	v := p[sample]
	if v == nil {
		return 0, false
	}
	return *v, true
}
