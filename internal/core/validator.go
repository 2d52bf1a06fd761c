package core

import (
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"postpilot/internal/types"
)

// Validator wraps go-playground/validator for request DTO validation and
// translates validation failures into client-safe AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct checks the struct's `validate` tags and returns a
// validation AppError naming the offending fields, or nil when valid.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make([]string, 0, len(verrs))
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		fields = append(fields, name)
		details[name] = fe.Tag()
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"invalid request: "+strings.Join(fields, ", "),
		nil,
		details,
	)
}
