package manifest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema is the JSON schema every *_manifest.json document must
// satisfy before it is decoded into a ChannelManifest.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "display_name", "required_config_fields", "security_defaults"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "display_name": {"type": "string"},
    "session_scope": {"enum": ["user", "user_conversation"]},
    "capabilities": {"type": "array", "items": {"type": "string"}},
    "webhook_paths": {"type": "array", "items": {"type": "string"}},
    "required_config_fields": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["key"],
        "properties": {
          "key": {"type": "string", "minLength": 1},
          "label": {"type": "string"},
          "secret": {"type": "boolean"},
          "required": {"type": "boolean"},
          "regex": {"type": "string"},
          "options": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "security_defaults": {
      "type": "object",
      "required": ["mode"],
      "properties": {
        "mode": {"enum": ["chat_only", "chat_exec_restricted"]},
        "allow_execute": {"type": "boolean"},
        "allowed_commands": {"type": "array", "items": {"type": "string"}},
        "rate_limit_per_minute": {"type": "integer", "minimum": 0},
        "retention_days": {"type": "integer", "minimum": 0},
        "require_signature": {"type": "boolean"}
      }
    },
    "setup_steps": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaOnce sync.Once
	compiledSchemaErr  error
)

func schema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiledSchema, compiledSchemaErr = jsonschema.CompileString("channel_manifest.schema.json", manifestSchema)
	})
	return compiledSchema, compiledSchemaErr
}

// validateDocument checks a raw manifest document against the schema.
func validateDocument(raw []byte) error {
	s, err := schema()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if err := s.Validate(decoded); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	return nil
}
