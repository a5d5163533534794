package tools

// JSON Schema building blocks shared by the tool definitions.

func stringSchema(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func uuidSchema(description string) map[string]any {
	return map[string]any{"type": "string", "format": "uuid", "description": description}
}

func integerSchema(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func objectSchema(description string) map[string]any {
	return map[string]any{"type": "object", "description": description}
}

func arraySchema(description string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "description": description, "items": items}
}

func messageSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"role":    stringSchema("Message author role, e.g. user or assistant"),
			"content": stringSchema("Message text"),
		},
		"required": []string{"role", "content"},
	}
}

func buildSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
