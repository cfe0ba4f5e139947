package research

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchemaDoc describes the planner output after alias normalization.
// Titles are not required here; steps without a usable title are dropped
// afterwards rather than failing the whole plan.
var planSchemaDoc = map[string]any{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type":    "object",
	"required": []any{"steps"},
	"properties": map[string]any{
		"steps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       map[string]any{"type": []any{"string", "null"}},
					"rationale":   map[string]any{"type": []any{"string", "null"}},
					"searchQuery": map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
	},
}

var (
	planSchemaOnce sync.Once
	planSchema     *jsonschema.Schema
	planSchemaErr  error
)

func compiledPlanSchema() (*jsonschema.Schema, error) {
	planSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("plan.json", planSchemaDoc); err != nil {
			planSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		planSchema, planSchemaErr = c.Compile("plan.json")
		if planSchemaErr != nil {
			planSchemaErr = fmt.Errorf("compile schema: %w", planSchemaErr)
		}
	})
	return planSchema, planSchemaErr
}

func validatePlanDocument(doc any) error {
	schema, err := compiledPlanSchema()
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
