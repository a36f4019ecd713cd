package strategy

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// itemSchema validates one planner-produced strategy object. Planner
// output is untrusted: each element is checked on its own so a single
// malformed entry never poisons the rest of the batch.
const itemSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind", "agent_id"],
  "properties": {
    "kind": {"enum": ["keep_working", "opportunistic_buy"]},
    "agent_id": {"type": "integer", "minimum": 0},
    "building_id": {"type": "integer", "minimum": 1},
    "resource": {"type": "string", "minLength": 1},
    "price_below": {"type": "number", "exclusiveMinimum": 0},
    "stop_when_resource": {"type": "string", "minLength": 1},
    "stop_when_amount": {"type": "number", "exclusiveMinimum": 0}
  },
  "allOf": [
    {
      "if": {"properties": {"kind": {"const": "keep_working"}}},
      "then": {"required": ["building_id", "stop_when_resource", "stop_when_amount"]}
    },
    {
      "if": {"properties": {"kind": {"const": "opportunistic_buy"}}},
      "then": {"required": ["resource", "price_below", "stop_when_amount"]}
    }
  ]
}`

var compiledItemSchema = jsonschema.MustCompileString("strategy.schema.json", itemSchema)

// ParseStrategies decodes a planner response into strategies for one
// agent. The raw text may wrap the JSON array in prose; the first
// bracketed array is extracted. Elements that fail schema validation
// or carry a foreign agent_id are dropped individually; dropped counts
// the discards.
func ParseStrategies(raw string, agentID int64) (strategies []Strategy, dropped int, err error) {
	arr := extractJSONArray(raw)
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(arr), &elements); err != nil {
		return nil, 0, err
	}
	for _, el := range elements {
		var v any
		if err := json.Unmarshal(el, &v); err != nil {
			dropped++
			continue
		}
		if err := compiledItemSchema.Validate(v); err != nil {
			dropped++
			continue
		}
		var s Strategy
		if err := json.Unmarshal(el, &s); err != nil {
			dropped++
			continue
		}
		if s.AgentID != agentID {
			dropped++
			continue
		}
		s.Status = StatusActive
		strategies = append(strategies, s)
	}
	return strategies, dropped, nil
}

// extractJSONArray returns the first top-level [...] span in text, or
// the text unchanged when no bracket pair is found.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
