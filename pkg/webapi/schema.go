package webapi

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const registerSchema = `{
	"type": "object",
	"properties": {
		"email": {"type": "string", "format": "email"},
		"password": {"type": "string", "minLength": 6}
	},
	"required": ["email", "password"]
}`

const loginSchema = `{
	"type": "object",
	"properties": {
		"email": {"type": "string"},
		"password": {"type": "string"}
	},
	"required": ["email", "password"]
}`

const postSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"content": {"type": "string"}
	},
	"required": ["title", "content"]
}`

// validationError lists the ways a document failed its schema.
type validationError struct {
	problems []string
}

func (e *validationError) Error() string {
	return "invalid request body: " + strings.Join(e.problems, "; ")
}

// validator checks request bodies against a compiled JSON schema.
type validator struct {
	schema *gojsonschema.Schema
}

func newValidator(source string) (*validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &validator{schema: schema}, nil
}

// validate returns a *validationError for schema violations and a plain
// error for bodies that are not JSON.
func (v *validator) validate(body []byte) error {
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return &validationError{problems: problems}
}
