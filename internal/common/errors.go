package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors. Two AppErrors match under
// errors.Is when their codes are equal, so the sentinels below can be used to
// test the class of a wrapped failure while Cause keeps the original verbatim.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	switch {
	case e.Message == "" && e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	case e.Message == "":
		return e.Code
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes. Stored verbatim in stage error payloads.
const (
	CodeUnsupportedFormat       = "UNSUPPORTED_FORMAT"
	CodeExtraction              = "EXTRACTION_FAILURE"
	CodeClassification          = "CLASSIFICATION_FAILURE"
	CodeUnsupportedDocumentType = "UNSUPPORTED_DOCUMENT_TYPE"
	CodeMetadataParse           = "METADATA_PARSE_FAILURE"
	CodeChunking                = "CHUNKING_FAILURE"
	CodeTemplateResolution      = "TEMPLATE_RESOLUTION_FAILURE"
	CodeModelUnavailable        = "MODEL_UNAVAILABLE"
	CodeStageFailed             = "STAGE_FAILED"
	CodeConfig                  = "CONFIG_ERROR"
)

// Pipeline error classes.
var (
	ErrUnsupportedFormat       = &AppError{Code: CodeUnsupportedFormat}
	ErrExtraction              = &AppError{Code: CodeExtraction}
	ErrClassification          = &AppError{Code: CodeClassification}
	ErrUnsupportedDocumentType = &AppError{Code: CodeUnsupportedDocumentType}
	ErrMetadataParse           = &AppError{Code: CodeMetadataParse}
	ErrChunking                = &AppError{Code: CodeChunking}
	ErrTemplateResolution      = &AppError{Code: CodeTemplateResolution}
	ErrModelUnavailable        = &AppError{Code: CodeModelUnavailable}
	ErrStageFailed             = &AppError{Code: CodeStageFailed}
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflicting update")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the AppError code found in err's chain, or "" when there is none.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
