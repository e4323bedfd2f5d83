package validation

import (
	"encoding/pem"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/models"
)

// Validator validates structs using `validate` tags.
//
// On top of the go-playground rules it knows serial (a 16 hex char serial
// id) and pem (a PEM block). Field names in errors are taken from the json
// tag.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	// Registration only fails on an empty tag or a nil func
	_ = v.RegisterValidation("serial", func(fl validator.FieldLevel) bool {
		_, err := models.ParseSerialID(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("pem", func(fl validator.FieldLevel) bool {
		block, _ := pem.Decode([]byte(fl.Field().String()))
		return block != nil
	})

	return &Validator{validate: v}
}

// Validate validates a struct. Failures wrap apperr.ErrBadRequest.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate: %w", err)
	}

	fe := fieldErrs[0]
	return fmt.Errorf("%w: %s: %s", apperr.ErrBadRequest, fe.Field(), describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "serial":
		return "invalid serial id"
	case "pem":
		return "invalid PEM"
	case "min":
		return "minimum is " + fe.Param()
	case "max":
		return "maximum is " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
