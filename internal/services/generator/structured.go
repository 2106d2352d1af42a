package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/ternarybob/folio/internal/schemas"
)

// compileSchema loads an embedded JSON schema
func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemas.GetSchema(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return schema, nil
}

// extractJSON pulls the JSON object out of a model response, tolerating code
// fences and surrounding prose.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		lines := strings.Split(trimmed, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
			if strings.TrimSpace(lines[len(lines)-1]) == "```" {
				lines = lines[:len(lines)-1]
			}
			trimmed = strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return ""
	}
	return trimmed[start : end+1]
}

// validateAgainstSchema checks raw JSON against a compiled schema
func validateAgainstSchema(schema *jsonschema.Schema, raw string) error {
	if raw == "" {
		return fmt.Errorf("response contains no JSON object")
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}

func repairPrompt(schemaName string, issue error) string {
	schemaText, _ := schemas.GetSchema(schemaName)
	return fmt.Sprintf(`Your previous answer could not be used.

Problem:
%v

Return ONLY valid JSON (no markdown, no commentary) that fixes the problem and conforms to this schema:
%s`, issue, schemaText)
}
