package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fabfab/contract-assistant/ingestion"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const nonFieldErrors = "non_field_errors"

// requestSchemas are compiled once per server.
type requestSchemas struct {
	document   *jsonschema.Schema
	comparison *jsonschema.Schema
	authoring  *jsonschema.Schema
	upload     *jsonschema.Schema
}

func compileSchemas() (*requestSchemas, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	names := []string{"document_request.json", "comparison_request.json", "authoring_request.json", "contract_upload.json"}
	for _, name := range names {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	compiled := make([]*jsonschema.Schema, len(names))
	for i, name := range names {
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		compiled[i] = schema
	}
	return &requestSchemas{
		document:   compiled[0],
		comparison: compiled[1],
		authoring:  compiled[2],
		upload:     compiled[3],
	}, nil
}

// requestError is a client mistake caught before any engine runs.
type requestError struct {
	fields map[string][]string
}

func (e *requestError) Error() string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.fields[k], "; "))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func (e *requestError) add(field, msg string) {
	if e.fields == nil {
		e.fields = map[string][]string{}
	}
	if !slices.Contains(e.fields[field], msg) {
		e.fields[field] = append(e.fields[field], msg)
	}
}

func fieldError(field, msg string) *requestError {
	e := &requestError{}
	e.add(field, msg)
	return e
}

// validateBody checks a raw JSON body against schema.
func validateBody(schema *jsonschema.Schema, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fieldError(nonFieldErrors, "request body must be a JSON object")
	}

	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("validate request: %w", err)
	}

	out := &requestError{}
	collectCauses(verr, out)
	return out
}

func collectCauses(verr *jsonschema.ValidationError, out *requestError) {
	if len(verr.Causes) == 0 {
		field := strings.TrimPrefix(verr.InstanceLocation, "/")
		if field == "" {
			field = nonFieldErrors
		}
		out.add(field, verr.Message)
		return
	}
	for _, cause := range verr.Causes {
		collectCauses(cause, out)
	}
}

// checkPayloads verifies each named base64 field decodes to a supported
// document. Absent fields are skipped.
func checkPayloads(fields map[string]string) error {
	out := &requestError{}
	for name, encoded := range fields {
		if encoded == "" {
			continue
		}
		data, err := ingestion.DecodeBase64(encoded)
		if err != nil {
			out.add(name, "must be valid base64")
			continue
		}
		if ingestion.SniffFormat(data) == ingestion.FormatUnknown {
			out.add(name, "must be a PDF or UTF-8 text document")
		}
	}
	if len(out.fields) > 0 {
		return out
	}
	return nil
}
