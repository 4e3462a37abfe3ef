package queue

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://timeaudit.local/schemas/pending-activities.json"

// pendingActivitiesSchema describes the persisted slot: a JSON array of
// pending activity records.
const pendingActivitiesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["localId", "ownerId", "text", "loggedAt", "createdAt", "status", "retryCount"],
    "properties": {
      "localId":    {"type": "string", "minLength": 1},
      "ownerId":    {"type": "string", "minLength": 1},
      "text":       {"type": "string"},
      "loggedAt":   {"type": "string", "minLength": 1},
      "createdAt":  {"type": "string", "minLength": 1},
      "status":     {"enum": ["pending", "confirmed", "failed"]},
      "retryCount": {"type": "integer", "minimum": 0}
    }
  }
}`

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func slotSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pendingActivitiesSchema))
		if err != nil {
			compileErr = fmt.Errorf("failed to parse slot schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("failed to add slot schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// validateSlot checks raw slot bytes against the persisted layout.
func validateSlot(data []byte) error {
	schema, err := slotSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("slot is not valid JSON: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("slot does not match schema: %w", err)
	}
	return nil
}
