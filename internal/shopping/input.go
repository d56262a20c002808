package shopping

import (
	"errors"
	"strings"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// ItemInput is what a caller supplies to add or replace an item. Unit defaults to UN.
type ItemInput struct {
	Name     string `validate:"required,max=120"`
	Quantity decimal.Decimal
	Unit     models.MeasureUnit `validate:"omitempty,oneof=UN KG G L"`
	Price    decimal.NullDecimal
	ImageURL *string `validate:"omitempty,url"`
}

type listName struct {
	Name string `validate:"max=120"`
}

func (in ItemInput) normalized() ItemInput {
	in.Name = strings.TrimSpace(in.Name)
	if in.Unit == "" {
		in.Unit = models.UnitUnits
	}
	if in.ImageURL != nil {
		url := strings.TrimSpace(*in.ImageURL)
		if url == "" {
			in.ImageURL = nil
		} else {
			in.ImageURL = &url
		}
	}
	return in
}

func (in ItemInput) check() error {
	if err := validate.Struct(in); err != nil {
		return validationError(err)
	}
	if !in.Quantity.IsPositive() {
		return apperr.Validation("quantity must be greater than zero")
	}
	if in.Price.Valid && in.Price.Decimal.IsNegative() {
		return apperr.Validation("price must not be negative")
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation("invalid input")
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return apperr.Validation("%s is required", field)
	case "max":
		return apperr.Validation("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return apperr.Validation("%s must be one of %s", field, fe.Param())
	case "url":
		return apperr.Validation("%s must be a valid URL", field)
	}
	return apperr.Validation("%s is invalid", field)
}
