package utils

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"leadforge/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// ValidateStruct runs the struct's validate tags and returns a validation
// AppError listing every failing field.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.NewValidation(err.Error(), nil)
	}

	var msgs []string
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := describe(fe)
		msgs = append(msgs, msg)
		fields[fe.Field()] = msg
	}
	return models.NewValidation(strings.Join(msgs, ", "), fields)
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		if fe.Kind() == reflect.String {
			return field + " must be at least " + param + " characters"
		}
		return field + " must be at least " + param
	case "max":
		if fe.Kind() == reflect.String {
			return field + " must be at most " + param + " characters"
		}
		return field + " must be at most " + param
	case "gte":
		return field + " must be greater than or equal to " + param
	case "lte":
		return field + " must be less than or equal to " + param
	case "email":
		return field + " must be a valid email"
	case "url":
		return field + " must be a valid URL"
	case "oneof":
		return field + " must be one of: " + param
	case "len":
		return field + " must be exactly " + param + " characters"
	default:
		return field + " is invalid"
	}
}
