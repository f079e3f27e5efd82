package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
}

// Enum is implemented by closed string sets such as notification types.
type Enum interface {
	Valid() bool
}

type validator struct {
	v *playground.Validate
}

// New returns a validator that understands the standard playground tags plus
// "enum", which accepts any field whose value implements Enum and is Valid.
func New() Validator {
	v := playground.New(playground.WithRequiredStructEnabled())
	_ = v.RegisterValidation("enum", func(fl playground.FieldLevel) bool {
		e, ok := fl.Field().Interface().(Enum)
		return ok && e.Valid()
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &validator{v: v}
}

// Validate returns a BadRequest AppError describing the first failing field.
func (v *validator) Validate(obj interface{}) error {
	err := v.v.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.NewBadRequest("invalid request", err)
	}
	return apperrors.NewBadRequest(describe(fieldErrs[0]), err)
}

func describe(fe playground.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "enum":
		return fmt.Sprintf("%s has an unsupported value %v", field, fe.Value())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
