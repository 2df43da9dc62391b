package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeError_IsMatchesByCode(t *testing.T) {
	req := require.New(t)

	err := ErrRecordNotFound.WrapMsg("message", "id", "42")
	req.True(errors.Is(err, ErrRecordNotFound))
	req.False(errors.Is(err, ErrArgs))
	req.Equal(RecordNotFoundError, Code(err))
	req.Contains(err.Error(), "id=42")

	wrapped := WrapMsg(err, "find message")
	req.True(errors.Is(wrapped, ErrRecordNotFound))
}

func TestCodeError_WrapDoesNotMutatePredefined(t *testing.T) {
	req := require.New(t)

	_ = ErrArgs.WrapMsg("content is required")
	req.Empty(ErrArgs.Detail)
}

func TestToString(t *testing.T) {
	req := require.New(t)
	req.Equal("x", toString("x", nil))
	req.Equal("x, a=1, b=MISSING", toString("x", []any{"a", 1, "b"}))
}

func TestCode_PlainError(t *testing.T) {
	require.Zero(t, Code(errors.New("boom")))
}
