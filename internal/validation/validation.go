// Package validation wires go-playground/validator against the request
// DTOs the HTTP boundary accepts: a single shared *validator.Validate
// instance plus a few domain-specific custom validators instead of
// hand-rolled field checks per handler.
package validation

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Validate returns the shared, lazily-initialized validator instance with
// this module's custom tags registered.
func Validate() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
		_ = instance.RegisterValidation("sessionmode", isSessionMode)
		_ = instance.RegisterValidation("confirmphrase", isNonEmptyTrimmed)
	})
	return instance
}

func isSessionMode(fl validator.FieldLevel) bool {
	switch models.SessionMode(fl.Field().String()) {
	case models.ModeTutor, models.ModeExam, models.ModeRevision:
		return true
	default:
		return false
	}
}

func isNonEmptyTrimmed(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Struct validates s and, on failure, collapses every field error into a
// single AppError whose Details lists each offending field and tag, so
// handlers can return one well-formed validation response instead of
// leaking the raw validator error type across the service boundary.
func Struct(s interface{}) error {
	if err := Validate().Struct(s); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return apperrors.NewValidationError("invalid request")
		}
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
		}
		return apperrors.NewValidationError("invalid request").WithDetails(strings.Join(parts, "; "))
	}
	return nil
}
