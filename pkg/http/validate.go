package http

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their wire name (json, then query tag).
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ReadAndValidateRequest binds, defaults and validates req. It returns nil on
// success and the []ValidationError to send back otherwise.
func ReadAndValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := c.Bind(req); err != nil {
		return validationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return validationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationErrors(err)
	}
	return nil
}

// ValidatePayload applies defaults and validation rules to a payload decoded
// outside of an echo request, such as a message from a topic.
func ValidatePayload(ctx context.Context, req interface{}) error {
	if err := defaults.Set(req); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if err := validate.StructCtx(ctx, req); err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	return nil
}

func validationErrors(err error) []ValidationError {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		out := make([]ValidationError, 0, len(ves))
		for _, fe := range ves {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Params:  fieldParams(fe),
			})
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: CodeBadRequest, Message: msg}}
}

// Message templates per tag; %[1]s is the field, %[2]s the tag parameter.
var fieldMessages = map[string]string{
	"required": "%[1]s is required",
	"oneof":    "%[1]s must be one of: %[2]s",
	"gt":       "%[1]s must be greater than %[2]s",
	"gte":      "%[1]s must be greater than or equal to %[2]s",
	"lt":       "%[1]s must be less than %[2]s",
	"lte":      "%[1]s must be less than or equal to %[2]s",
}

func fieldMessage(fe validator.FieldError) string {
	param := fe.Param()
	switch fe.Tag() {
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("%s must be %s %s characters", fe.Field(), bound, param)
		case reflect.Slice, reflect.Array, reflect.Map:
			return fmt.Sprintf("%s must have %s %s items", fe.Field(), bound, param)
		}
		return fmt.Sprintf("%s must be %s %s", fe.Field(), bound, param)
	case "oneof":
		param = strings.ReplaceAll(param, " ", ", ")
	}
	if tmpl, ok := fieldMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field(), param)
	}
	return fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
}

func fieldParams(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		return map[string]interface{}{"max": fe.Param()}
	case "gt", "lt":
		return map[string]interface{}{"value": fe.Param()}
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	}
	return nil
}
