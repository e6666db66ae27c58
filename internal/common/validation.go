package common

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// ValidateStruct applies `validate` struct tags and folds every failing field
// into one error wrapping ErrValidation.
func ValidateStruct(s interface{}) error {
	err := structValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ve := ValidationError{Field: fe.Namespace(), Value: fe.Value(), Message: ruleMessage(fe)}
		messages = append(messages, ve.Error())
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(messages, "; "))
}

func ruleMessage(fe validator.FieldError) string {
	if fe.Param() == "" {
		return "must satisfy " + fe.Tag()
	}
	return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
}

// ParseUUID parses a document identifier, mapping failures onto ErrInvalidInput.
func ParseUUID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidInput, ValidationError{Field: field, Value: value, Message: "must be a valid UUID"}.Error())
	}
	return id, nil
}
