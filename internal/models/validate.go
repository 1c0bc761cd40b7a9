package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"jewelcraft/internal/apperr"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation("invalid input: %v", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.Slice, reflect.Array:
			return fmt.Sprintf("%s must have %s %s entries", field, bound, fe.Param())
		case reflect.String:
			return fmt.Sprintf("%s must be %s %s characters", field, bound, fe.Param())
		}
		return fmt.Sprintf("%s must be %s %s", field, bound, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

// Validate checks field constraints and the stock/status invariants:
// sold implies quantity 0, and quantity > 0 implies in_stock or reserved.
func (i *Item) Validate() error {
	if err := validateStruct(i); err != nil {
		return err
	}
	if i.Status == ItemStatusSold && i.Quantity != 0 {
		return apperr.Validation("status sold requires quantity 0, got %d", i.Quantity)
	}
	if i.Quantity > 0 && !i.Status.Orderable() {
		return apperr.Validation("status %s cannot hold quantity %d", i.Status, i.Quantity)
	}
	return nil
}

func (r *CreateOrderRequest) Validate() error {
	return validateStruct(r)
}

func (r *RegisterUserRequest) Validate() error {
	return validateStruct(r)
}

func (r *LoginRequest) Validate() error {
	return validateStruct(r)
}
