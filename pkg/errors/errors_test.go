package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCopies(t *testing.T) {
	cause := fmt.Errorf("open qiws.yaml: %w", fs.ErrNotExist)
	err := ErrConfig.WithError(cause).WithMessage("解析配置失败")

	assert.Equal(t, "解析配置失败", err.Error())
	assert.Equal(t, 1007, err.Code)
	assert.Equal(t, 500, err.Status)
	// 共享实例不受影响
	assert.Equal(t, "配置错误", ErrConfig.Message)
	assert.Nil(t, ErrConfig.Err)

	assert.True(t, Is(err, ErrConfig))
	assert.False(t, Is(err, ErrServer))
	assert.True(t, Is(err, fs.ErrNotExist))

	wrapped := fmt.Errorf("load: %w", err)
	var target *Error
	require.True(t, As(wrapped, &target))
	assert.Equal(t, 1007, target.Code)
	assert.Same(t, cause, stderrors.Unwrap(target))
}

func TestNewStatusDefault(t *testing.T) {
	assert.Equal(t, 200, New(1, "ok").Status)
	assert.Equal(t, 429, ErrTooManyRequests.Status)
}
