package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://quire.dev/schemas/delta.json"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["ops"],
  "properties": {
    "ops": {"type": "array", "items": {"$ref": "#/$defs/op"}}
  },
  "$defs": {
    "attributes": {"type": ["object", "null"]},
    "op": {
      "type": "object",
      "oneOf": [
        {
          "required": ["insert"],
          "properties": {
            "insert": {"type": ["string", "object"], "minLength": 1},
            "attributes": {"$ref": "#/$defs/attributes"}
          },
          "not": {"anyOf": [{"required": ["retain"]}, {"required": ["delete"]}]}
        },
        {
          "required": ["retain"],
          "properties": {
            "retain": {"type": "integer", "minimum": 1},
            "attributes": {"$ref": "#/$defs/attributes"}
          },
          "not": {"anyOf": [{"required": ["insert"]}, {"required": ["delete"]}]}
        },
        {
          "required": ["delete"],
          "properties": {
            "delete": {"type": "integer", "minimum": 1}
          },
          "not": {"anyOf": [{"required": ["insert"]}, {"required": ["retain"]}]}
        }
      ]
    }
  }
}`

var schema = compileSchema()

func compileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("delta: parse schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("delta: add schema: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// ErrNotDocumentContent is returned when stored content holds non-insert ops.
var ErrNotDocumentContent = errors.New("delta: content must contain inserts only")

// Parse validates data against the delta schema and decodes it.
func Parse(data []byte) (*Delta, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("delta: decode: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("delta: invalid: %w", err)
	}
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("delta: decode: %w", err)
	}
	if d.Ops == nil {
		d.Ops = []Op{}
	}
	return &d, nil
}

// ParseDocument decodes stored content. A nil or empty content is a blank document.
func ParseDocument(content *string) (*Delta, error) {
	if content == nil || *content == "" {
		return Blank(), nil
	}
	d, err := Parse([]byte(*content))
	if err != nil {
		return nil, err
	}
	if !d.IsDocument() {
		return nil, ErrNotDocumentContent
	}
	return d, nil
}

// ValidateContent checks that content is a serialized document the editor accepts.
func ValidateContent(content string) error {
	_, err := ParseDocument(&content)
	return err
}

// Marshal serializes d as stored content.
func Marshal(d *Delta) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("delta: encode: %w", err)
	}
	return string(raw), nil
}
