package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf_DirectAndWrapped(t *testing.T) {
	err := New(CodeRetrievalFailed, "tìm kiếm thất bại")
	assert.Equal(t, CodeRetrievalFailed, CodeOf(err))

	wrapped := fmt.Errorf("pipeline: %w", err)
	assert.Equal(t, CodeRetrievalFailed, CodeOf(wrapped))

	assert.Equal(t, InternalServerError, CodeOf(errors.New("plain")))
	assert.Equal(t, InternalServerError, CodeOf(nil))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeStorageUnavailable, "redis không khả dụng", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeStorageUnavailable, CodeOf(err))
	assert.Contains(t, err.Error(), "redis không khả dụng")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrap_NilCause(t *testing.T) {
	err := Wrap(CodeGenerationFailed, "sinh câu trả lời thất bại", nil)
	assert.Equal(t, CodeGenerationFailed, CodeOf(err))
	assert.NotContains(t, err.Error(), "<nil>")
}
