package logging

import (
	"context"
	"sort"
	"time"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/logger"
)

var reservedMetadataKeys = map[string]struct{}{
	"error_code":     {},
	"error_category": {},
	"error_message":  {},
	"operation":      {},
	"module":         {},
	"recoverable":    {},
	"error_time":     {},
	"error":          {},
}

// Error logs msg at error level with structured fields derived from err.
// Plain errors are logged with a single "error" field.
func Error(ctx context.Context, log logger.Logger, msg string, err error) {
	if log == nil {
		return
	}
	log.ErrorContext(ctx, msg, fieldsFor(err)...)
}

// Warn is the warning-level counterpart of Error, used for failures that are
// recorded and tolerated.
func Warn(ctx context.Context, log logger.Logger, msg string, err error) {
	if log == nil {
		return
	}
	log.WarnContext(ctx, msg, fieldsFor(err)...)
}

func fieldsFor(err error) []logger.Field {
	if err == nil {
		return nil
	}
	if appErr, ok := apperrors.As(err); ok {
		return Fields(appErr)
	}
	return []logger.Field{logger.Error(err)}
}

// Fields converts an AppError into a slice of logger.Field for structured logging.
func Fields(appErr *apperrors.AppError) []logger.Field {
	if appErr == nil {
		return nil
	}

	fields := make([]logger.Field, 0, len(appErr.Metadata)+8)

	if appErr.Code != "" {
		fields = append(fields, logger.String("error_code", appErr.Code))
	}
	if appErr.Category != "" {
		fields = append(fields, logger.String("error_category", string(appErr.Category)))
	}
	if appErr.Message != "" {
		fields = append(fields, logger.String("error_message", appErr.Message))
	}
	if appErr.Operation != "" {
		fields = append(fields, logger.String("operation", appErr.Operation))
	}
	if appErr.Module != "" {
		fields = append(fields, logger.String("module", appErr.Module))
	}
	if appErr.Err != nil {
		fields = append(fields, logger.Error(appErr.Err))
	}

	fields = append(fields, logger.String("error_time", appErr.TimestampOrNow().Format(time.RFC3339Nano)))
	fields = append(fields, logger.Bool("recoverable", appErr.Recoverable))

	// Metadata keys are sorted so that log lines are stable across runs.
	keys := make([]string, 0, len(appErr.Metadata))
	for k := range appErr.Metadata {
		if _, reserved := reservedMetadataKeys[k]; reserved {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, logger.Any(k, appErr.Metadata[k]))
	}

	return fields
}
