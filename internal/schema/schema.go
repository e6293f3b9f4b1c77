// Package schema holds the registry of schema definitions and the
// transformation engine that maps normalized OCR fields onto them.
// Mapping is deterministic rule application: no ML, no inference.
package schema

// FieldRule maps priority-ordered source fields onto one target field.
type FieldRule struct {
	SourceFields []string `json:"source_fields"`
	Required     bool     `json:"required,omitempty"`
	Transform    string   `json:"transform,omitempty"` // builtin name or "js:<expression>"
}

// Definition is one registered schema. Clients select definitions by name;
// the id and version pair is what gets stamped onto jobs.
type Definition struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Version int                  `json:"version"`
	Fields  map[string]FieldRule `json:"fields"`
}

// Result of one transformation run.
//
// Success is false exactly when a required field is missing or a transform
// crashed. Ambiguous fields are soft: recorded, scored down, never fatal.
type Result struct {
	Structured   map[string]string  `json:"structured"`
	Confidence   map[string]float64 `json:"confidence"`
	QualityScore float64            `json:"quality_score"`
	Missing      []string           `json:"missing,omitempty"`
	Ambiguous    []string           `json:"ambiguous,omitempty"`
	Success      bool               `json:"success"`
}
