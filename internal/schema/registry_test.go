package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakehq/docpipe/internal/common"
)

func TestRegistryDefaults(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"invoice", "receipt"}, r.Names())

	def, err := r.ResolveName("invoice")
	require.NoError(t, err)
	assert.Equal(t, "invoice", def.ID)
	assert.Equal(t, 1, def.Version)

	same, err := r.Get(def.ID, def.Version)
	require.NoError(t, err)
	assert.Equal(t, def, same)
}

func TestRegistryNotFound(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	_, err = r.ResolveName("passport")
	assert.True(t, errors.Is(err, common.ErrNotFound))

	_, err = r.Get("invoice", 99)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestRegistryRejectsInvalidDefinitions(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	// no fields at all
	err = r.Register(Definition{ID: "x", Name: "x", Version: 1, Fields: map[string]FieldRule{}})
	assert.Error(t, err)

	// empty source_fields
	err = r.Register(Definition{ID: "x", Name: "x", Version: 1, Fields: map[string]FieldRule{
		"f": {SourceFields: []string{}},
	}})
	assert.Error(t, err)

	// name that violates the pattern
	err = r.Register(Definition{ID: "x", Name: "Bad Name", Version: 1, Fields: map[string]FieldRule{
		"f": {SourceFields: []string{"a"}},
	}})
	assert.Error(t, err)

	// version below 1
	err = r.Register(Definition{ID: "x", Name: "x", Version: 0, Fields: map[string]FieldRule{
		"f": {SourceFields: []string{"a"}},
	}})
	assert.Error(t, err)

	// unknown transform reference
	err = r.Register(Definition{ID: "x", Name: "x", Version: 1, Fields: map[string]FieldRule{
		"f": {SourceFields: []string{"a"}, Transform: "sparkle"},
	}})
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	def := Definition{ID: "custom", Name: "custom", Version: 1, Fields: map[string]FieldRule{
		"f": {SourceFields: []string{"a"}},
	}}
	require.NoError(t, r.Register(def))
	assert.Error(t, r.Register(def))
}

func TestRegistryNameResolvesHighestVersion(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	v2 := Definition{ID: "invoice", Name: "invoice", Version: 2, Fields: map[string]FieldRule{
		"invoice_number": {SourceFields: []string{"invoice_number"}, Required: true},
	}}
	require.NoError(t, r.Register(v2))

	def, err := r.ResolveName("invoice")
	require.NoError(t, err)
	assert.Equal(t, 2, def.Version)

	// pinned lookups still reach the old version
	old, err := r.Get("invoice", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version)
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `{
	  "id": "purchase_order",
	  "name": "purchase_order",
	  "version": 1,
	  "fields": {
	    "po_number": {"source_fields": ["po_number", "po"], "required": true},
	    "total": {"source_fields": ["total"], "transform": "amount"}
	  }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "purchase_order.json"), []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r, err := NewRegistry(nil)
	require.NoError(t, err)
	require.NoError(t, r.LoadDir(dir))

	def, err := r.ResolveName("purchase_order")
	require.NoError(t, err)
	assert.True(t, def.Fields["po_number"].Required)
}

func TestRegistryLoadDirRejectsMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"id": "x"}`), 0o644))

	r, err := NewRegistry(nil)
	require.NoError(t, err)
	assert.Error(t, r.LoadDir(dir))
}
