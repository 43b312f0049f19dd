package harnessports

// SchemaType mirrors the OpenAPI subset accepted by responseSchema.
type SchemaType string

const (
	TypeString  SchemaType = "STRING"
	TypeNumber  SchemaType = "NUMBER"
	TypeInteger SchemaType = "INTEGER"
	TypeBoolean SchemaType = "BOOLEAN"
	TypeArray   SchemaType = "ARRAY"
	TypeObject  SchemaType = "OBJECT"
)

// Schema declares the expected shape of structured output or tool arguments.
type Schema struct {
	Type        SchemaType
	Description string
	Enum        []string
	Items       *Schema
	Properties  map[string]*Schema
	Required    []string
	AllowNumber bool // a STRING that also validates as a number, for ids models emit either way
}

// ToJSONSchema renders the schema as a draft-07 JSON Schema document.
func (s *Schema) ToJSONSchema() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{}
	switch s.Type {
	case TypeString:
		out["type"] = "string"
		if s.AllowNumber {
			out["type"] = []any{"string", "number"}
		}
	case TypeNumber:
		out["type"] = "number"
	case TypeInteger:
		out["type"] = "integer"
	case TypeBoolean:
		out["type"] = "boolean"
	case TypeArray:
		out["type"] = "array"
	case TypeObject:
		out["type"] = "object"
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		enum := make([]any, len(s.Enum))
		for i, v := range s.Enum {
			enum[i] = v
		}
		out["enum"] = enum
	}
	if s.Items != nil {
		out["items"] = s.Items.ToJSONSchema()
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.ToJSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		req := make([]any, len(s.Required))
		for i, v := range s.Required {
			req[i] = v
		}
		out["required"] = req
	}
	return out
}
