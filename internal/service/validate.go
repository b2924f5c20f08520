package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knolroom/internal/errs"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so messages match request bodies.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// check validates s and turns the first failure into an ErrValidation.
func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		switch fe.Tag() {
		case "notblank", "required":
			return errs.Validation("%s must not be empty", fe.Field())
		case "min":
			return errs.Validation("%s must be at least %s", fe.Field(), fe.Param())
		case "oneof":
			return errs.Validation("%s must be one of [%s]", fe.Field(), fe.Param())
		default:
			return errs.Validation("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
	}
	return errs.Validation("%v", err)
}
