package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"payledger/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	MaxIdempotencyKeyLen = 100
	MaxDescriptionLen    = 255
	MaxAccountNameLen    = 50
	maxIntegerDigits     = 15
)

var (
	minAmount     = decimal.New(1, -2)               // 0.01
	amountCeiling = decimal.New(1, maxIntegerDigits) // first value with 16 integer digits
)

// Validator checks command structs before they reach the executor.
//
// decimal.Decimal fields are presented to the validator as strings, which
// lets the "money" tag run on them.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		return CheckAmount(fl.Field().String()) == ""
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return ValidCurrency(fl.Field().String())
	})
	_ = v.RegisterValidation("accountstatus", func(fl validator.FieldLevel) bool {
		return model.ValidAccountStatus(fl.Field().String())
	})
	return &Validator{validate: v}
}

// Struct validates s and reports the first failure as a *ValidationError.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Reason: reasonFor(fe)}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "money":
		if reason := CheckAmount(fmt.Sprint(fe.Value())); reason != "" {
			return reason
		}
		return "is not a valid amount"
	case "currency":
		return "must be a 3-letter ISO 4217 code"
	case "accountstatus":
		return "must be one of ACTIVE, FROZEN, CLOSED"
	default:
		return "failed " + fe.Tag()
	}
}

// CheckAmount returns why s is not an acceptable monetary amount, or "" when
// it is: at least 0.01, at most 4 fractional digits and 15 integer digits.
func CheckAmount(s string) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "is not a number"
	}
	if !d.IsPositive() {
		return "must be positive"
	}
	if !d.Equal(d.Truncate(model.MoneyScale)) {
		return "must have at most 4 fractional digits"
	}
	if d.LessThan(minAmount) {
		return "must be at least 0.01"
	}
	if d.GreaterThanOrEqual(amountCeiling) {
		return "must have at most 15 integer digits"
	}
	return ""
}

// ValidCurrency reports whether c looks like an ISO 4217 code.
func ValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
