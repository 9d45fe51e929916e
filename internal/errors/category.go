package errors

// ErrorCategory groups related application errors for unified handling.
type ErrorCategory string

const (
	ErrCategorySystem     ErrorCategory = "SYSTEM"
	ErrCategoryNetwork    ErrorCategory = "NETWORK"
	ErrCategoryFilesystem ErrorCategory = "FILESYSTEM"
	ErrCategoryExtraction ErrorCategory = "EXTRACTION"
	ErrCategoryProcess    ErrorCategory = "PROCESS"
	ErrCategoryUpdate     ErrorCategory = "UPDATE"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryDatabase   ErrorCategory = "DATABASE"
)
