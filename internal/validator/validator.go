// Package validator checks request DTOs against their `validate:` struct tags
// and turns failures into field-level messages the handlers can return.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps JSON request bodies. Store bios and review bodies are
// the largest payloads the API accepts.
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates a struct using go-playground/validator tags.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return &ValidationError{Errors: validationErrors}
		}
		return err
	}
	return nil
}

// ValidationError wraps validator.ValidationErrors with a user-friendly message.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s %s", jsonName(err), msgForTag(err)))
	}
	return strings.Join(msgs, "; ")
}

// Fields returns a map of JSON field names to error messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, err := range e.Errors {
		fields[jsonName(err)] = msgForTag(err)
	}
	return fields
}

// FirstField returns the name of the first failing field, or "".
func (e *ValidationError) FirstField() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return jsonName(e.Errors[0])
}

// jsonName lowercases the struct field name so messages line up with the
// snake_case-free JSON keys the DTOs use (Username -> username).
func jsonName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "required_with":
		return fmt.Sprintf("is required with %s", strings.ToLower(fe.Param()[:1])+fe.Param()[1:])
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// DecodeAndValidate reads JSON from the request body, decodes it into dst,
// and validates it.
func DecodeAndValidate(r *http.Request, dst any) error {
	return DecodeAndValidateLimit(r, dst, maxBodyBytes)
}

// DecodeAndValidateLimit is DecodeAndValidate with a custom body cap, for
// the few DTOs that carry file uploads.
func DecodeAndValidateLimit(r *http.Request, dst any, limit int64) error {
	body := http.MaxBytesReader(nil, r.Body, limit)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return Validate(dst)
}
