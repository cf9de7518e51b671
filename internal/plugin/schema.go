package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateConfig checks a manifest's config block against its config_schema.
// Both come from YAML, so they are normalized through JSON first.
func validateConfig(name string, schema, config map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode config_schema for %q: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config_schema.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add config_schema for %q: %w", name, err)
	}
	compiled, err := compiler.Compile("config_schema.json")
	if err != nil {
		return fmt.Errorf("compile config_schema for %q: %w", name, err)
	}

	if config == nil {
		config = map[string]any{}
	}
	doc, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config for %q: %w", name, err)
	}
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("decode config for %q: %w", name, err)
	}

	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("config for %q does not match config_schema: %w", name, err)
	}
	return nil
}
