package api

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/placement/internal/workflow"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Request body schemas, keyed by file name without extension.
var requestSchemas = mustLoadSchemas()

func mustLoadSchemas() map[string]*jsonschema.Schema {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		panic(fmt.Sprintf("read request schemas: %v", err))
	}
	out := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		b, err := schemaFiles.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			panic(fmt.Sprintf("read schema %s: %v", e.Name(), err))
		}
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal(b, rs); err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", e.Name(), err))
		}
		out[strings.TrimSuffix(e.Name(), ".json")] = rs
	}
	return out
}

// validateSchema checks body against a named request schema and reports
// violations as a field map.
func validateSchema(ctx context.Context, name string, body []byte) error {
	rs, ok := requestSchemas[name]
	if !ok {
		return fmt.Errorf("unknown request schema %q", name)
	}
	keyErrs, err := rs.ValidateBytes(ctx, body)
	if err != nil {
		return &workflow.ValidationError{Fields: map[string]string{"body": "invalid json"}}
	}
	if len(keyErrs) == 0 {
		return nil
	}
	fields := make(map[string]string, len(keyErrs))
	for _, ke := range keyErrs {
		field := strings.TrimPrefix(ke.PropertyPath, "/")
		if field == "" {
			field = "body"
		}
		if _, seen := fields[field]; !seen {
			fields[field] = ke.Message
		}
	}
	return &workflow.ValidationError{Fields: fields}
}
