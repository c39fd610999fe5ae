package api

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchema validates POST /actions/run bodies before anything is
// enqueued. Unknown actions still pass here; the runner rejects them
// against the registry so the ledger records the attempt.
const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "pattern": "^[a-z0-9_]+\\.[a-z0-9_]+$"},
    "scope": {
      "type": "object",
      "properties": {
        "type": {"enum": ["selection", "scenario", "none"]},
        "initiative_keys": {"type": "array", "items": {"type": "string"}},
        "scenario_name": {"type": "string"}
      },
      "additionalProperties": false
    },
    "sheet_context": {
      "type": "object",
      "properties": {
        "spreadsheet_id": {"type": "string"},
        "tab": {"type": "string"}
      },
      "additionalProperties": false
    },
    "options": {
      "type": "object",
      "properties": {
        "commit_every": {"type": "integer", "minimum": 1},
        "max_llm_calls": {"type": "integer", "minimum": 1},
        "constraint_set_name": {"type": "string"},
        "framework": {"enum": ["RICE", "WSJF", "MATH_MODEL"]}
      },
      "additionalProperties": false
    },
    "requested_by": {"type": "object"}
  },
  "additionalProperties": false
}`

var compiledPayloadSchema = mustCompileSchema(payloadSchema)

func mustCompileSchema(schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://roadmapd.schemas.local/actions/run.schema.json"
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}

// ValidatePayload checks a decoded request body against the schema.
func ValidatePayload(body any) error {
	return compiledPayloadSchema.Validate(body)
}
