package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// requestSchema validates externally supplied notification requests before
// they reach Show.
const requestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["title", "message"],
	"properties": {
		"id":          {"type": "string"},
		"title":       {"type": "string", "minLength": 1},
		"message":     {"type": "string"},
		"type":        {"enum": ["info", "success", "warning", "error"]},
		"autoClose":   {"type": "boolean"},
		"offlineSafe": {"type": "boolean"},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["label"],
				"properties": {
					"label":        {"type": "string", "minLength": 1},
					"closeOnClick": {"type": "boolean"}
				}
			}
		}
	},
	"additionalProperties": false
}`

var compiledRequestSchema = mustCompileRequestSchema()

func mustCompileRequestSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(requestSchema))
	if err != nil {
		panic(fmt.Sprintf("notification request schema unreadable: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("notification-request.json", doc); err != nil {
		panic(fmt.Sprintf("add notification request schema: %v", err))
	}
	sch, err := compiler.Compile("notification-request.json")
	if err != nil {
		panic(fmt.Sprintf("compile notification request schema: %v", err))
	}
	return sch
}

// ParseRequest validates raw JSON against the request schema and decodes
// it. Handlers cannot travel over the wire; parsed actions carry labels
// only.
func ParseRequest(raw []byte) (Request, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Request{}, fmt.Errorf("notification request is not valid JSON: %w", err)
	}
	if err := compiledRequestSchema.Validate(inst); err != nil {
		return Request{}, fmt.Errorf("notification request rejected: %w", err)
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("decode notification request: %w", err)
	}
	return req, nil
}
