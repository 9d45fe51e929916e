package errors

import "time"

// New creates an AppError. Category comes first so call sites read the same
// way as the per-category constructors below.
func New(category ErrorCategory, code, message string, err error) *AppError {
	return &AppError{
		Code:      code,
		Category:  category,
		Message:   message,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// NewRecoverable creates an AppError flagged as recoverable: the operation
// can be retried by the user without other intervention.
func NewRecoverable(category ErrorCategory, code, message string, err error) *AppError {
	return New(category, code, message, err).WithRecoverable(true)
}

func SystemError(code, message string, err error) *AppError {
	return New(ErrCategorySystem, code, message, err)
}

// NetworkError creates a recoverable NETWORK error.
func NetworkError(code, message string, err error) *AppError {
	return NewRecoverable(ErrCategoryNetwork, code, message, err)
}

func FilesystemError(code, message string, err error) *AppError {
	return New(ErrCategoryFilesystem, code, message, err)
}

func ExtractionError(code, message string, err error) *AppError {
	return New(ErrCategoryExtraction, code, message, err)
}

func ProcessError(code, message string, err error) *AppError {
	return New(ErrCategoryProcess, code, message, err)
}

// UpdateError creates an UPDATE error. Replace failures are recoverable
// because the whole protocol can be re-run.
func UpdateError(code, message string, err error) *AppError {
	return NewRecoverable(ErrCategoryUpdate, code, message, err)
}

func ConfigError(code, message string, err error) *AppError {
	return New(ErrCategoryConfig, code, message, err)
}

func ValidationError(code, message string, err error) *AppError {
	return New(ErrCategoryValidation, code, message, err)
}

func DatabaseError(code, message string, err error) *AppError {
	return New(ErrCategoryDatabase, code, message, err)
}
