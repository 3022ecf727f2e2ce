package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// definitionSchemaJSON is the JSON Schema for workflow Definition validation.
// Embedded as a constant to avoid filesystem dependencies.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://sagaflow.dev/schemas/definition.json",
  "type": "object",
  "required": ["workflow", "tasks"],
  "properties": {
    "workflow": {
      "type": "string",
      "minLength": 1
    },
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/task" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "task": {
      "type": "object",
      "required": ["id", "executor", "idempotency_key"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "executor": {
          "type": "string",
          "minLength": 1
        },
        "compensation": { "type": "string" },
        "payload": {},
        "idempotency_key": {
          "type": "string",
          "minLength": 1
        },
        "timeout": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    }
  }
}`

var (
	definitionSchemaOnce sync.Once
	definitionSchema     *jsonschema.Schema
	definitionSchemaErr  error
)

func compiledDefinitionSchema() (*jsonschema.Schema, error) {
	definitionSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat()

		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
		if err != nil {
			definitionSchemaErr = fmt.Errorf("unmarshal definition schema: %w", err)
			return
		}
		if err := c.AddResource("https://sagaflow.dev/schemas/definition.json", doc); err != nil {
			definitionSchemaErr = fmt.Errorf("add definition schema resource: %w", err)
			return
		}
		definitionSchema, definitionSchemaErr = c.Compile("https://sagaflow.dev/schemas/definition.json")
	})
	return definitionSchema, definitionSchemaErr
}

// ValidateDefinition validates a workflow Definition against the embedded
// JSON Schema, plus structural checks the schema cannot express
// (duplicate task ids, self-referencing dependencies).
func ValidateDefinition(def *Definition) error {
	if def == nil {
		return NewError(ErrCodeValidation, "workflow definition is nil")
	}

	compiled, err := compiledDefinitionSchema()
	if err != nil {
		return NewError(ErrCodeValidation, "definition schema unavailable").WithCause(err)
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return NewError(ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toSagaError(err)
	}

	seen := make(map[string]struct{}, len(def.Tasks))
	for _, task := range def.Tasks {
		if _, exists := seen[task.ID]; exists {
			return NewErrorf(ErrCodeValidation, "duplicate task id %q", task.ID)
		}
		seen[task.ID] = struct{}{}

		for _, dep := range task.DependsOn {
			if dep == task.ID {
				return NewErrorf(ErrCodeValidation, "task %q depends on itself", task.ID).WithTask(task.ID)
			}
		}
	}

	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSagaError converts a jsonschema.ValidationError into a SagaError with
// clear, actionable messages.
func toSagaError(err error) *SagaError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return NewError(ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return NewError(ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return NewError(ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
