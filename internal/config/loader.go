package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// SchemaError reports a document that does not match the configuration schema.
type SchemaError struct {
	Causes []string
}

func (e *SchemaError) Error() string {
	if len(e.Causes) == 1 {
		return "schema violation: " + e.Causes[0]
	}
	return fmt.Sprintf("%d schema violations: %s", len(e.Causes), strings.Join(e.Causes, "; "))
}

// LoadConfig loads a configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// The returned configuration has defaults applied but is not yet validated;
// callers apply overrides and then call Validate.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension. The document is checked
// against the embedded JSON Schema before it is decoded.
func ParseConfig(data []byte, path string) (*Config, error) {
	doc, err := decodeDocument(data, path)
	if err != nil {
		return nil, err
	}

	// Normalise YAML and JSON into one JSON document
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalise config: %w", err)
	}

	if err := validateSchema(normalized); err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(normalized, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	ApplyDefaults(&config)
	return &config, nil
}

func decodeDocument(data []byte, path string) (any, error) {
	var doc any

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	if doc == nil {
		return nil, fmt.Errorf("config %s is empty", path)
	}
	return doc, nil
}

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("schema.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("invalid schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

func validateSchema(normalized []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}

	// The validator expects numbers decoded as json.Number.
	dec := json.NewDecoder(bytes.NewReader(normalized))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := s.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &SchemaError{Causes: extractCauses(ve)}
		}
		return &SchemaError{Causes: []string{err.Error()}}
	}
	return nil
}

// extractCauses flattens the leaf errors of a validation tree.
func extractCauses(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("at %s: %s", loc, err.Message)}
	}

	var out []string
	for _, c := range err.Causes {
		out = append(out, extractCauses(c)...)
	}
	return out
}
