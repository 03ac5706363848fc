package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// simStateSchema is the safety net against shape drift in the most-broadcast
// message. A snapshot failing validation is dropped and logged, never sent.
const simStateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "sessionId", "stageId", "scenarioId", "vitals", "fallback", "voiceFallback", "correlationId"],
  "properties": {
    "type": {"const": "sim_state"},
    "sessionId": {"type": "string", "minLength": 1},
    "stageId": {"type": "string"},
    "scenarioId": {"type": "string"},
    "vitals": {
      "type": "object",
      "properties": {
        "hr": {"type": "number"},
        "bp": {"type": "string"},
        "spo2": {"type": "number"},
        "rr": {"type": "number"},
        "temp": {"type": "number"}
      },
      "additionalProperties": false
    },
    "exam": {"type": "object", "additionalProperties": {"type": "string"}},
    "examAudio": {"type": "object", "additionalProperties": {"type": "string"}},
    "interventions": {"type": "object"},
    "telemetry": {"type": "boolean"},
    "rhythmSummary": {"type": "string"},
    "telemetryWaveform": {"type": "array", "items": {"type": "number"}},
    "findings": {"type": "array", "items": {"type": "string"}},
    "orders": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "status"],
        "properties": {
          "status": {"enum": ["pending", "complete"]}
        }
      }
    },
    "ekgHistory": {"type": "array"},
    "telemetryHistory": {"type": "array"},
    "treatmentHistory": {"type": "array"},
    "scenarioStartedAt": {"type": "string"},
    "stageEnteredAt": {"type": "string"},
    "elapsedSeconds": {"type": "integer", "minimum": 0},
    "fallback": {"type": "boolean"},
    "voiceFallback": {"type": "boolean"},
    "correlationId": {"type": "string", "minLength": 1},
    "budget": {"type": "object"},
    "extended": {"type": "object"},
    "stageIds": {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": false
}`

var compiledSimState = jsonschema.MustCompileString("sim_state.json", simStateSchema)

// ValidateSimState checks a serialized sim_state payload against the wire
// schema. Callers drop the broadcast on error.
func ValidateSimState(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("gateway: decode sim_state: %w", err)
	}
	if err := compiledSimState.Validate(doc); err != nil {
		return fmt.Errorf("gateway: sim_state schema: %w", err)
	}
	return nil
}
