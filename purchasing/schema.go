package purchasing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// =============================================================================
// SCHEMA DOCUMENTS
// =============================================================================
//
// Schemas are built from the Go enumerations so the two never drift apart,
// then compiled once.

type schemaName string

const (
	schemaCreate   schemaName = "create.json"
	schemaUpdate   schemaName = "update.json"
	schemaList     schemaName = "list.json"
	schemaValidate schemaName = "validate.json"
)

const (
	datePattern    = `^[0-9]{4}-[0-9]{2}-[0-9]{2}$`
	numericPattern = `^[0-9]+(\.[0-9]+)?$`
	integerPattern = `^[0-9]+$`
	currencyRegex  = `^[A-Z]{3}$`
)

func enum[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// amountSchema accepts a non-negative number or a numeric string.
func amountSchema() map[string]any {
	return map[string]any{
		"type":    []string{"number", "string"},
		"minimum": 0,
		"pattern": numericPattern,
	}
}

// idSchema accepts a positive integer or its string form.
func idSchema() map[string]any {
	return map[string]any{
		"type":    []string{"integer", "string"},
		"minimum": 1,
		"pattern": integerPattern,
	}
}

func fieldSchemas() map[string]any {
	return map[string]any{
		"agency":           map[string]any{"type": "string", "enum": enum(Agencies)},
		"type":             map[string]any{"type": "string", "enum": enum(RequestTypes)},
		"title":            map[string]any{"type": "string", "minLength": 3, "maxLength": 200},
		"description":      map[string]any{"type": "string", "maxLength": 2000},
		"requester_id":     idSchema(),
		"priority":         map[string]any{"type": "string", "enum": enum(Priorities)},
		"estimated_amount": amountSchema(),
		"currency":         map[string]any{"type": "string", "pattern": currencyRegex},
		"needed_by":        map[string]any{"type": "string", "pattern": datePattern},
	}
}

func schemaDocuments() map[schemaName]map[string]any {
	create := fieldSchemas()
	create["submit"] = map[string]any{"type": "boolean"}

	update := fieldSchemas()
	delete(update, "requester_id")
	update["status"] = map[string]any{
		"type": "string",
		"enum": []string{string(StatusSubmitted), string(StatusCancelled)},
	}

	return map[schemaName]map[string]any{
		schemaCreate: {
			"type":                 "object",
			"required":             []string{"agency", "type", "title", "requester_id", "estimated_amount"},
			"properties":           create,
			"additionalProperties": false,
		},
		schemaUpdate: {
			"type":                 "object",
			"minProperties":        1,
			"properties":           update,
			"additionalProperties": false,
		},
		schemaList: {
			"type": "object",
			"properties": map[string]any{
				"agency": map[string]any{"type": "string", "enum": enum(Agencies)},
				"type":   map[string]any{"type": "string", "enum": enum(RequestTypes)},
				"status": map[string]any{"type": "string", "enum": enum(Statuses)},
				"page":   map[string]any{"type": "integer", "minimum": 1},
				"limit":  map[string]any{"type": "integer", "minimum": 1, "maximum": MaxLimit},
			},
			"additionalProperties": false,
		},
		schemaValidate: {
			"type":     "object",
			"required": []string{"decision"},
			"properties": map[string]any{
				"decision": map[string]any{
					"type": "string",
					"enum": []string{string(StatusApproved), string(StatusRejected)},
				},
				"comment": map[string]any{"type": "string", "maxLength": 1000},
			},
			"if": map[string]any{
				"properties": map[string]any{"decision": map[string]any{"const": string(StatusRejected)}},
			},
			"then": map[string]any{
				"required":   []string{"comment"},
				"properties": map[string]any{"comment": map[string]any{"minLength": 1}},
			},
			"additionalProperties": false,
		},
	}
}

// =============================================================================
// COMPILATION
// =============================================================================

var (
	compileOnce sync.Once
	compiled    map[schemaName]*jsonschema.Schema
	compileErr  error
)

func compileSchemas() (map[schemaName]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	docs := schemaDocuments()
	for name, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal schema %s: %w", name, err)
		}
		if err := compiler.AddResource(string(name), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	out := make(map[schemaName]*jsonschema.Schema, len(docs))
	for name := range docs {
		s, err := compiler.Compile(string(name))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

func schemaFor(name schemaName) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = compileSchemas()
	})
	if compileErr != nil {
		return nil, compileErr
	}
	return compiled[name], nil
}
