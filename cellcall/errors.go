package cellcall

import "fmt"

// InvalidBarcodeError is returned by FilterManual when a requested barcode
// has no observed reads and the run requires every barcode to be present.
type InvalidBarcodeError struct {
	Barcode string
}

func (e *InvalidBarcodeError) Error() string {
	return fmt.Sprintf("barcode %s had no observed reads", e.Barcode)
}
