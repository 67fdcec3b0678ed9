package scanning

// LineItem is one normalized receipt line. Ids are 1-based and follow the
// order the extraction returned the entries in.
type LineItem struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Scanner defines the interface for receipt extraction backends.
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts its line items
	ScanReceipt(imageData []byte, contentType string) ([]LineItem, error)
	// Close closes the scanner and releases resources
	Close() error
}
