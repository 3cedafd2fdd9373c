package runner

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/retrocourt/retrocourt/internal/model"
)

//go:embed schema/*.json
var schemaFS embed.FS

var stageSchemas = map[model.Stage]jsonSchema{}

func init() {
	files := map[model.Stage]string{
		model.StageProsecutor: "schema/prosecutor.json",
		model.StageDefense:    "schema/defense.json",
		model.StageJury:       "schema/jury.json",
		model.StageJudge:      "schema/judge.json",
		model.StageTriage:     "schema/triage.json",
		model.StageResponse:   "schema/response.json",
	}
	for stage, path := range files {
		b, err := schemaFS.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("runner: missing embedded schema %s: %v", path, err))
		}
		var s jsonSchema
		if err := json.Unmarshal(b, &s); err != nil {
			panic(fmt.Sprintf("runner: invalid schema %s: %v", path, err))
		}
		stageSchemas[stage] = s
	}
}

// jsonSchema is a hand-rolled subset of JSON Schema: object/array/string/
// number/boolean types, "required", "properties", and "items". It covers
// exactly the shapes the six stage outputs need — no $ref, no oneOf, no
// conditional keywords. No third-party JSON-Schema library is used here.
type jsonSchema struct {
	Type       string                `json:"type"`
	Required   []string              `json:"required"`
	Properties map[string]jsonSchema `json:"properties"`
	Items      *jsonSchema           `json:"items"`
}

// ValidateStage checks raw against the embedded schema for stage.
func ValidateStage(stage model.Stage, raw json.RawMessage) error {
	s, ok := stageSchemas[stage]
	if !ok {
		return fmt.Errorf("runner: no schema registered for stage %q", stage)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("runner: output is not valid JSON: %w", err)
	}
	return validate(s, v, "$")
}

func validate(s jsonSchema, v any, path string) error {
	switch s.Type {
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, v)
		}
		for _, req := range s.Required {
			if _, present := obj[req]; !present {
				return fmt.Errorf("%s: missing required field %q", path, req)
			}
		}
		for key, propSchema := range s.Properties {
			val, present := obj[key]
			if !present {
				continue
			}
			if err := validate(propSchema, val, path+"."+key); err != nil {
				return err
			}
		}
		return nil

	case "array":
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, v)
		}
		if s.Items != nil {
			for i, el := range arr {
				if err := validate(*s.Items, el, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
		return nil

	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%s: expected string, got %T", path, v)
		}
		return nil

	case "number":
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("%s: expected number, got %T", path, v)
		}
		return nil

	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, v)
		}
		return nil

	default:
		// Unconstrained type: anything passes.
		return nil
	}
}
