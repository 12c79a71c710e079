package thinking

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrValidation is the sentinel wrapped by every [ValidationError].
var ErrValidation = errors.New("validation failed")

// ValidationError reports a thought that violates a structural or range
// constraint. It is always produced before any store mutation.
type ValidationError struct {
	// Problems lists each violated constraint in a human readable form.
	Problems []string
	// Err is the underlying validator or schema error, if any.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

// Unwrap lets errors.Is match ErrValidation and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// fieldValidate checks struct tags. Field names in errors are reported
// by their JSON wire names.
var fieldValidate = newFieldValidator()

func newFieldValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the range constraints of a thought and everything
// nested in it: thought_number and total_thoughts >= 1, optional
// revises_thought and branch_from_thought >= 1, non-empty branch_id
// and tool_name, confidence in [0,1].
func (t *Thought) Validate() error {
	if t == nil {
		return &ValidationError{Problems: []string{"thought is required"}}
	}
	err := fieldValidate.Struct(t)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Problems: []string{err.Error()}, Err: err}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describeFieldError(fe))
	}
	return &ValidationError{Problems: problems, Err: err}
}

func describeFieldError(fe validator.FieldError) string {
	// Drop the leading "Thought." so paths read like the wire payload.
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s, got %v", path, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be <= %s, got %v", path, fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must not be empty", path)
	case "required":
		return fmt.Sprintf("%s is required", path)
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}

// ParseThought decodes raw tool arguments into a Thought. The payload is
// first checked against [InputSchema] (required keys, types, bounds) and
// then decoded and range-checked with [Thought.Validate]. Any failure is
// returned as a *ValidationError.
func ParseThought(raw json.RawMessage) (*Thought, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ValidationError{Problems: []string{"arguments are required"}}
	}

	schema, err := compiledSchema()
	if err != nil {
		// The schema is a compile-time constant; failing here is a bug.
		return nil, fmt.Errorf("input schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationError{Problems: []string{"arguments are not valid JSON: " + err.Error()}, Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return nil, &ValidationError{Problems: schemaProblems(err), Err: err}
	}

	// The schema accepts integral numbers such as 2.0 as integers;
	// rewrite them so the typed decode agrees.
	normalized, err := json.Marshal(integralNumbers(inst))
	if err != nil {
		return nil, &ValidationError{Problems: []string{"decode arguments: " + err.Error()}, Err: err}
	}

	var t Thought
	if err := json.Unmarshal(normalized, &t); err != nil {
		return nil, &ValidationError{Problems: []string{"decode arguments: " + err.Error()}, Err: err}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

// integralNumbers rewrites json.Number values with a zero fraction
// (2.0, 3e0) as plain integers, in place.
func integralNumbers(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = integralNumbers(e)
		}
	case []any:
		for i, e := range v {
			v[i] = integralNumbers(e)
		}
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return v
		}
		f, err := v.Float64()
		if err == nil && f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
			return json.Number(strconv.FormatInt(int64(f), 10))
		}
	}
	return v
}

// schemaProblems flattens a jsonschema error into one line per leaf
// cause.
func schemaProblems(err error) []string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	printer := message.NewPrinter(language.English)
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := "/" + strings.Join(e.InstanceLocation, "/")
			out = append(out, fmt.Sprintf("%s: %s", loc, e.ErrorKind.LocalizedString(printer)))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	if len(out) == 0 {
		out = append(out, verr.Error())
	}
	return out
}
