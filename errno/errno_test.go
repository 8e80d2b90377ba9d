package errno_test

import (
	"errors"
	"syscall"
	"testing"

	"github.com/nufs-fs/nufs/errno"
	"github.com/stretchr/testify/assert"
)

func TestErrorWithMessage(t *testing.T) {
	newErr := errno.NoEntry.WithMessage("/hello")
	assert.Equal(t, "no such file or directory: /hello", newErr.Error())
	assert.ErrorIs(t, newErr, errno.NoEntry.Errno)
}

func TestCode(t *testing.T) {
	assert.Equal(t, syscall.ENOENT, errno.Code(errno.NoEntry))
	assert.Equal(t, syscall.Errno(0), errno.Code(nil))
	assert.Equal(t, syscall.EIO, errno.Code(errors.New("not ours")))
}

func TestUnwrapAllowsErrorsIs(t *testing.T) {
	wrapped := errno.NoSpace.WithMessage("writing /big")
	assert.True(t, errors.Is(wrapped, syscall.ENOSPC))
}
