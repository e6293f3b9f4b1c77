package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/intakehq/docpipe/internal/common"
)

// metaSchema is what every definition document must satisfy before it is
// allowed into the registry. Keeping it strict means a malformed rule set
// is rejected at load time, never at job time.
const metaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "version", "fields"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1, "pattern": "^[a-z][a-z0-9_-]*$"},
    "version": {"type": "integer", "minimum": 1},
    "fields": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["source_fields"],
        "additionalProperties": false,
        "properties": {
          "source_fields": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          },
          "required": {"type": "boolean"},
          "transform": {"type": "string"}
        }
      }
    }
  }
}`

// Registry is the schema provider: an allow-list of definitions keyed by
// (id, version) for the worker and by name for the API layer. Clients never
// supply schema content or versions; they pick a registered name.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]Definition // id@version
	byName map[string]Definition // name -> highest registered version
	meta   *jsonschema.Schema
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("meta.json", strings.NewReader(metaSchema)); err != nil {
		return nil, common.WrapError(err, "add meta schema")
	}
	meta, err := compiler.Compile("meta.json")
	if err != nil {
		return nil, common.WrapError(err, "compile meta schema")
	}

	r := &Registry{
		byKey:  make(map[string]Definition),
		byName: make(map[string]Definition),
		meta:   meta,
		logger: logger,
	}
	for _, def := range defaults() {
		if err := r.Register(def); err != nil {
			return nil, fmt.Errorf("register default %s: %w", def.Name, err)
		}
	}
	return r, nil
}

// Register validates def against the meta-schema, checks every transform
// reference resolves, and adds it to the allow-list.
func (r *Registry) Register(def Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return common.WrapError(err, "marshal definition")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return common.WrapError(err, "unmarshal definition")
	}
	if err := r.meta.Validate(doc); err != nil {
		return common.NewAppError("SCHEMA_INVALID", fmt.Sprintf("definition %s does not satisfy the meta-schema", def.Name), err)
	}
	for field, rule := range def.Fields {
		if _, err := LookupTransform(rule.Transform); err != nil {
			return common.NewAppError("SCHEMA_INVALID", fmt.Sprintf("field %s of %s: %v", field, def.Name, err), common.ErrInvalidInput)
		}
	}

	key := definitionKey(def.ID, def.Version)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[key]; exists {
		return common.NewAppError("SCHEMA_INVALID", fmt.Sprintf("definition %s already registered", key), common.ErrConflict)
	}
	r.byKey[key] = def
	if cur, ok := r.byName[def.Name]; !ok || def.Version > cur.Version {
		r.byName[def.Name] = def
	}
	r.logger.Info("schema registered", "schema_id", def.ID, "schema_version", def.Version, "name", def.Name)
	return nil
}

// LoadDir registers every *.json definition document under dir.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return common.WrapError(err, "read schema dir")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return common.WrapError(err, "read schema document")
		}
		var def Definition
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return common.NewAppError("SCHEMA_INVALID", fmt.Sprintf("parse %s", e.Name()), err)
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the definition for an exact (id, version) pair, as stamped on
// a job record.
func (r *Registry) Get(id string, version int) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byKey[definitionKey(id, version)]
	if !ok {
		return Definition{}, fmt.Errorf("schema %s@%d: %w", id, version, common.ErrNotFound)
	}
	return def, nil
}

// ResolveName maps a client-facing schema name to the current definition.
// This is the only selection path the API exposes.
func (r *Registry) ResolveName(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	if !ok {
		return Definition{}, fmt.Errorf("schema %q: %w", name, common.ErrNotFound)
	}
	return def, nil
}

// Names lists the registered schema names, sorted, for discovery endpoints.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions lists the current definition per registered name, sorted by
// name. Backs the read-only schema listing endpoint.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.byName))
	for _, def := range r.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func definitionKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// defaults are the definitions every deployment starts with. Environments
// add their own through SCHEMA_DIR.
func defaults() []Definition {
	return []Definition{
		{
			ID:      "invoice",
			Name:    "invoice",
			Version: 1,
			Fields: map[string]FieldRule{
				"invoice_number": {SourceFields: []string{"invoice_number", "invoice_no", "invoice"}, Required: true},
				"date":           {SourceFields: []string{"date", "invoice_date", "issued"}, Transform: "date"},
				"total":          {SourceFields: []string{"total", "total_amount", "amount_due"}, Required: true, Transform: "amount"},
				"vendor":         {SourceFields: []string{"vendor", "vendor_name", "from", "supplier"}},
				"currency":       {SourceFields: []string{"currency"}},
			},
		},
		{
			ID:      "receipt",
			Name:    "receipt",
			Version: 1,
			Fields: map[string]FieldRule{
				"merchant":       {SourceFields: []string{"merchant", "merchant_name", "store"}, Required: true},
				"date":           {SourceFields: []string{"date", "transaction_date", "purchased"}, Transform: "date"},
				"total":          {SourceFields: []string{"total", "total_amount", "grand_total"}, Required: true, Transform: "amount"},
				"tax":            {SourceFields: []string{"tax", "vat", "sales_tax"}, Transform: "amount"},
				"payment_method": {SourceFields: []string{"payment_method", "paid_with", "tender"}},
			},
		},
	}
}
