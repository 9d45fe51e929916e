package logging

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/logger"
)

func TestFieldsOrderAndReservedKeys(t *testing.T) {
	appErr := apperrors.NetworkError(apperrors.CodeTransfer, "transfer failed", stderrors.New("reset")).
		WithModule("download").
		WithFields(apperrors.Metadata{"url": "http://x", "bytes": 10, "module": "ignored"})

	fields := Fields(appErr)

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{
		"error_code", "error_category", "error_message", "module", "error",
		"error_time", "recoverable", "bytes", "url",
	}, keys)
}

func TestErrorAcceptsPlainErrors(t *testing.T) {
	mock := logger.NewMockLogger()

	Error(context.Background(), mock, "boom", stderrors.New("plain"))
	Warn(context.Background(), mock, "tolerated", apperrors.FilesystemError(apperrors.CodeCleanupItem, "remove", nil))

	entries := mock.GetEntries()
	require.Len(t, entries, 2)
	v, ok := entries[0].Field("error")
	require.True(t, ok)
	assert.Equal(t, "plain", v)
	v, ok = entries[1].Field("error_code")
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeCleanupItem, v)
}
