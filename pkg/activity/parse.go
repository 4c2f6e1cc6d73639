package activity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformed marks payloads that are not a valid activity.
var ErrMalformed = errors.New("malformed activity")

// envelopeSchema checks structure only. Identifier values are pass-through
// metadata and are not type-checked.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "text": {"type": ["string", "null"]},
    "from": {"type": ["object", "null"]},
    "recipient": {"type": ["object", "null"]},
    "conversation": {"type": ["object", "null"]}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(envelopeSchema)

// Parse validates raw JSON against the envelope schema and decodes it into an
// Activity. Every failure wraps ErrMalformed.
func Parse(data []byte) (Activity, error) {
	if !json.Valid(data) {
		return Activity{}, fmt.Errorf("%w: body is not valid JSON", ErrMalformed)
	}

	if err := validateSchema(data); err != nil {
		return Activity{}, err
	}

	var act Activity
	if err := json.Unmarshal(data, &act); err != nil {
		return Activity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return act, nil
}

func validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrMalformed, strings.Join(problems, "; "))
}
