package metadata

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldIssue describes one failed validation rule.
type FieldIssue struct {
	Field   string
	Rule    string
	Message string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("knownevent", func(fl validator.FieldLevel) bool {
		return IsKnownEvent(fl.Field().String())
	})
	return v
}

// ValidateEndpoint checks an endpoint definition before it enters the
// registry. A nil result means the endpoint is valid.
func ValidateEndpoint(e *Endpoint) []FieldIssue {
	return collect(validate.Struct(e))
}

// ValidateProvider checks a provider definition.
func ValidateProvider(p *Provider) []FieldIssue {
	return collect(validate.Struct(p))
}

func collect(err error) []FieldIssue {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldIssue{{Message: err.Error()}}
	}
	issues := make([]FieldIssue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, FieldIssue{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: issueMessage(fe),
		})
	}
	return issues
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "knownevent":
		return fmt.Sprintf("unknown event %q", fe.Value())
	case "gte", "lte", "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
