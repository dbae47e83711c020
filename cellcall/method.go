// Package cellcall decides which barcodes of a count matrix are cells.
//
// Each Method maps the per-barcode UMI counts of one partition (a genome
// and gem group) to a set of selected barcode indices plus summary
// statistics. All stochastic methods take an explicit *rand.Rand so that a
// partition's result depends only on its inputs and seed.
package cellcall

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Method identifies a cell-calling algorithm.
type Method int

const (
	// MethodManual takes a caller-supplied barcode list.
	MethodManual Method = iota
	// MethodTopN takes the N barcodes with the highest counts.
	MethodTopN
	// MethodOrdMag takes barcodes within an order of magnitude of a
	// high-count baseline barcode.
	MethodOrdMag
	// MethodOrdMagNonAmbient runs MethodOrdMag and then adds barcodes whose
	// profile differs from the ambient profile.
	MethodOrdMagNonAmbient
	// MethodGradient takes barcodes above the steepest descent of the
	// log-log barcode rank curve.
	MethodGradient
	// MethodTargeted runs MethodGradient on total counts and keeps barcodes
	// with enough target-feature counts.
	MethodTargeted
)

var methodNames = [...]string{
	MethodManual:           "manual",
	MethodTopN:             "topn",
	MethodOrdMag:           "ordmag",
	MethodOrdMagNonAmbient: "ordmag_nonambient",
	MethodGradient:         "gradient",
	MethodTargeted:         "targeted",
}

// String returns the name used in configuration and metric keys.
func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod parses a method name as produced by Method.String.
func ParseMethod(name string) (Method, error) {
	for i, n := range methodNames {
		if n == name {
			return Method(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown filter method %q", name))
}

// Validate checks that the inputs a method requires are present: MANUAL
// needs a barcode list and TOP_N a forced cell count.
func Validate(m Method, forceCells Param, cellBarcodes []string) error {
	switch m {
	case MethodManual:
		if cellBarcodes == nil {
			return errors.E(errors.Invalid, fmt.Sprintf("cell barcodes must be specified when method is %q", m))
		}
	case MethodTopN:
		if forceCells == nil {
			return errors.E(errors.Invalid, fmt.Sprintf("force cells must be specified when method is %q", m))
		}
	case MethodOrdMag, MethodOrdMagNonAmbient, MethodGradient, MethodTargeted:
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("unsupported filter method %d", int(m)))
	}
	return nil
}

// SelectionInput describes the run properties that determine the method.
type SelectionInput struct {
	HasCellBarcodes bool
	HasForceCells   bool
	// Override, if nonempty, names the method to use when neither cell
	// barcodes nor forced cells are given.
	Override     string
	AntibodyOnly bool
	// Targeted is set when the matrix has target features; RTL when the
	// targeting is probe based rather than hybrid capture.
	Targeted bool
	RTL      bool
}

// SelectMethod picks the method for a run. In order of precedence: an
// explicit barcode list selects MANUAL, a forced cell count TOP_N, then the
// override, antibody-only data ORDMAG, hybrid-capture targeted data
// TARGETED, and everything else ORDMAG_NONAMBIENT.
func SelectMethod(in SelectionInput) (Method, error) {
	switch {
	case in.HasCellBarcodes:
		return MethodManual, nil
	case in.HasForceCells:
		return MethodTopN, nil
	case in.Override != "":
		return ParseMethod(in.Override)
	case in.AntibodyOnly:
		return MethodOrdMag, nil
	case in.Targeted && !in.RTL:
		return MethodTargeted, nil
	}
	return MethodOrdMagNonAmbient, nil
}
