package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrorTenantRequired = errors.New("tenant id is required")
	ErrorUnauthorized   = errors.New("unauthorized")
	ErrorForbidden      = errors.New("role is not allowed to perform this action")
)

// ValidationError is returned when input is rejected before anything is written.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// FieldError builds a validation error for a single field.
func FieldError(field string, reason string) *ValidationError {
	return &ValidationError{
		Message: "invalid input",
		Fields:  map[string]string{field: reason},
	}
}

// Prefixed scopes every field of err under prefix, e.g. "receipts[1].quantity".
func (e *ValidationError) Prefixed(prefix string) *ValidationError {
	out := &ValidationError{Message: e.Message, Fields: make(map[string]string, len(e.Fields))}
	for k, v := range e.Fields {
		out.Fields[prefix+"."+k] = v
	}
	return out
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsValidationError folds binding errors (validator.ValidationErrors, json syntax/type errors)
// into a ValidationError. Other errors are returned untouched.
func AsValidationError(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return &ValidationError{Message: "invalid input", Fields: ProcessValidationErrors(verrs)}
	}
	return &ValidationError{Message: fmt.Sprintf("invalid request body: %v", err)}
}

// ProcessValidationErrors maps validator errors to field => failed tag.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

// IsDuplicateKeyError reports a unique index violation (mysql 1062).
func IsDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
