package validation

import (
	"fmt"
	"net/mail"
	"slices"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/donation-gateway/internal"
	"github.com/frahmantamala/donation-gateway/internal/money"
)

type ValidatorFunc func(interface{}) *errors.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

// ValidationBuilder collects every field failure instead of stopping at the first.
type ValidationBuilder struct {
	fields []*FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := &FieldValidator{FieldName: name, Value: value}
	v.fields = append(v.fields, fv)
	return fv
}

func (fv *FieldValidator) fail(code errors.ErrorCode, format string, args ...any) *errors.AppError {
	return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf(format, args...), code)
}

func (fv *FieldValidator) add(check func(value interface{}) *errors.AppError) *FieldValidator {
	fv.Validators = append(fv.Validators, check)
	return fv
}

func (fv *FieldValidator) Required() *FieldValidator {
	return fv.add(func(value interface{}) *errors.AppError {
		missing := false
		switch v := value.(type) {
		case string:
			missing = v == ""
		case int64:
			missing = v == 0
		case *string:
			missing = v == nil || *v == ""
		case decimal.Decimal:
			missing = v.IsZero()
		}
		if missing {
			return fv.fail(errors.ErrCodeValidationFailed, "%s is required", fv.FieldName)
		}
		return nil
	})
}

func (fv *FieldValidator) MaxLength(limit int) *FieldValidator {
	return fv.add(func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok && len(v) > limit {
			return fv.fail(errors.ErrCodeValidationFailed, "%s must not exceed %d characters", fv.FieldName, limit)
		}
		return nil
	})
}

func (fv *FieldValidator) Email() *FieldValidator {
	return fv.add(func(value interface{}) *errors.AppError {
		v, ok := value.(string)
		if !ok || v == "" {
			return nil
		}
		if _, err := mail.ParseAddress(v); err != nil {
			return fv.fail(errors.ErrCodeInvalidDonor, "%s must be a valid email address", fv.FieldName)
		}
		return nil
	})
}

// OneOf ignores empty values; pair it with Required when the field is mandatory.
func (fv *FieldValidator) OneOf(allowed ...string) *FieldValidator {
	return fv.add(func(value interface{}) *errors.AppError {
		v, ok := value.(string)
		if !ok || v == "" || slices.Contains(allowed, v) {
			return nil
		}
		return fv.fail(errors.ErrCodeValidationFailed, "%s must be one of %v", fv.FieldName, allowed)
	})
}

// Positive requires a decimal amount greater than zero.
func (fv *FieldValidator) Positive(code errors.ErrorCode) *FieldValidator {
	return fv.add(func(value interface{}) *errors.AppError {
		if v, ok := value.(decimal.Decimal); ok && !v.IsPositive() {
			return fv.fail(code, "%s must be greater than zero", fv.FieldName)
		}
		return nil
	})
}

func (fv *FieldValidator) Custom(validator func(interface{}) *errors.AppError) *FieldValidator {
	return fv.add(validator)
}

func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			err := validator(field.Value)
			if err == nil {
				continue
			}
			if details, ok := err.Details.(errors.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
				continue
			}
			validationErrors = append(validationErrors, errors.ValidationError{
				Field:   field.FieldName,
				Message: err.Message,
				Code:    string(err.Code),
			})
		}
	}

	if len(validationErrors) > 0 {
		return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
			WithDetails(errors.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

// ValidateMoney checks that amount is expressible in currency's minor units.
func ValidateMoney(field string, amount decimal.Decimal, currency string) *errors.AppError {
	validator := NewValidator()
	validator.Field("currency", currency).
		Required().
		Custom(func(value interface{}) *errors.AppError {
			if _, err := money.Normalize(value.(string)); err != nil {
				return errors.NewValidationFieldError("currency", "currency must be a three-letter ISO code", errors.ErrCodeInvalidCurrency)
			}
			return nil
		})
	validator.Field(field, amount).
		Positive(errors.ErrCodeInvalidAmount).
		Custom(func(value interface{}) *errors.AppError {
			if _, err := money.ToMinorUnits(value.(decimal.Decimal), currency); err != nil {
				return errors.NewValidationFieldError(field, fmt.Sprintf("%s is not representable in %s", field, currency), errors.ErrCodeInvalidAmount)
			}
			return nil
		})
	return validator.Validate()
}
