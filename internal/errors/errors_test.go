package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorFormatting(t *testing.T) {
	cause := stderrors.New("sharing violation")
	err := UpdateError(CodeReplace, "replace did not succeed before timeout", cause).
		WithModule("selfupdate").
		WithOperation("Replace")

	assert.Equal(t, "[UPDATE:UPD-100] replace did not succeed before timeout: sharing violation", err.Error())
	assert.Equal(t, "replace did not succeed before timeout: sharing violation", err.Reason())
	assert.True(t, err.Recoverable)
	assert.ErrorIs(t, err, cause)
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := FilesystemError(CodeCleanupItem, "remove failed", nil)
	outer := New(ErrCategorySystem, CodeSystemGeneric, "batch failed", inner)
	wrapped := fmt.Errorf("context: %w", outer)

	assert.True(t, HasCode(wrapped, CodeCleanupItem))
	assert.True(t, HasCode(wrapped, CodeSystemGeneric))
	assert.False(t, HasCode(wrapped, CodeReplace))
	assert.False(t, HasCode(stderrors.New("plain"), CodeReplace))
}

func TestAsAndMetadata(t *testing.T) {
	err := fmt.Errorf("wrap: %w", ProcessError(CodeHolderQueryUnavailable, "cannot list processes", nil).
		WithFields(Metadata{"target": "app.exe", "attempt": 2}))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, ErrCategoryProcess, appErr.Category)
	assert.Equal(t, "app.exe", appErr.Metadata["target"])

	clone := appErr.Metadata.Clone()
	clone["target"] = "other"
	assert.Equal(t, "app.exe", appErr.Metadata["target"])
}
