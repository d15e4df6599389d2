package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := f.Tag.Get("yaml")
		if tag == "" || tag == "-" {
			return strings.ToLower(f.Name)
		}
		return strings.Split(tag, ",")[0]
	})
	return v
}

// Validate reports every invalid field of cfg in a single error.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("config: %w", err)
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, messageFor(e))
	}
	sort.Strings(msgs)

	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func messageFor(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, e.Param(), e.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", field, e.Value())
	}

	return fmt.Sprintf("%s is invalid", field)
}
