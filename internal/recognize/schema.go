package recognize

// BuildExpenseJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. We pass it to the model as a structured output constraint and
// also use it locally to validate the response.
func BuildExpenseJSONSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":   map[string]any{"type": "string", "minLength": 1},
			"amount": decimalProp(),
		},
		"required": []string{"name", "amount"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"expense_id": map[string]any{"type": "string"},
			"date":       map[string]any{"type": "string", "minLength": 1},
			"submitter":  map[string]any{"type": "string", "minLength": 1},
			"department": map[string]any{"type": "string", "minLength": 1},
			"line_items": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    item,
			},
			"total_amount": decimalProp(),
		},
		"required": []string{"expense_id", "date", "submitter", "department", "line_items", "total_amount"},
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d+)?$`,
	}
}
