package extractor

// Manifest is the extracted set of calculations for one migration run.
type Manifest struct {
	Calculations []CalculationSpec `json:"calculations"`
	// ColumnMappings renames source columns to their target names.
	ColumnMappings map[string]string `json:"columnMappings,omitempty"`
}

// CalculationSpec is one raw formula as it came out of the source report.
type CalculationSpec struct {
	ID           string   `json:"id"`
	Caption      string   `json:"caption,omitempty"`
	Table        string   `json:"table,omitempty"`
	Expression   string   `json:"expression"`
	DataType     string   `json:"dataType,omitempty"`     // e.g. "integer", "real", "string"
	Usage        string   `json:"usage,omitempty"`        // "measure" or "attribute"
	SourceKind   string   `json:"sourceKind,omitempty"`   // "relational", "flatFile", "webApi"
	OutputSchema []string `json:"outputSchema,omitempty"` // ordered output column names
	Materialized *bool    `json:"materialized,omitempty"` // defaults to true
}
