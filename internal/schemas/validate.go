// Package schemas validates LLM output against embedded JSON Schemas.
package schemas

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed lesson_script.schema.json
var lessonScriptSchema string

// LessonScript returns the schema for a storytelling script: a non-empty
// array of scenes with aligned animation and narration steps.
func LessonScript() string {
	return lessonScriptSchema
}

var compiledLessonScript = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return compile("lesson_script.schema.json", lessonScriptSchema)
})

// ValidateLessonScript validates a generated script against LessonScript.
// The schema is compiled on first use.
func ValidateLessonScript(jsonContent string) error {
	schema, err := compiledLessonScript()
	if err != nil {
		return err
	}
	return check(schema, jsonContent)
}

// ValidateJSONString validates jsonContent against an ad-hoc schema.
func ValidateJSONString(schemaContent, jsonContent string) error {
	schema, err := compile("(inline schema)", schemaContent)
	if err != nil {
		return err
	}
	return check(schema, jsonContent)
}

// ValidationError lists every schema violation of a document.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is one violation; Field is a dotted path such as "0.script_seq".
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// SchemaLoadError reports a schema or document that could not be parsed.
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func compile(name, content string) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(content))
	if err != nil {
		return nil, &SchemaLoadError{Path: name, Message: "invalid schema", Cause: err}
	}
	return schema, nil
}

func check(schema *gojsonschema.Schema, jsonContent string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(jsonContent))
	if err != nil {
		return &SchemaLoadError{Path: "(document)", Message: "document is not valid JSON", Cause: err}
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return verr
}
