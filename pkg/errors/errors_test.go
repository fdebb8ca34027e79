package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(ErrorTypeConnection, "vendor unreachable")
	assert.Equal(t, "connection: vendor unreachable", err.Error())
	assert.NotEmpty(t, err.Stack)

	err = Newf(ErrorTypeNotFound, "plugin %s missing", "alpha")
	assert.Equal(t, "not_found: plugin alpha missing", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := Wrap(cause, ErrorTypeConnection, "handshake failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "refused")

	assert.Nil(t, Wrap(nil, ErrorTypeConnection, "ignored"))
}

func TestWrapKeepsOriginalStack(t *testing.T) {
	inner := New(ErrorTypeSchema, "no column matched")
	outer := Wrap(inner, ErrorTypeData, "standardization failed")
	assert.Equal(t, inner.Stack, outer.Stack)
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeCircuitOpen, "open")
	assert.True(t, IsType(err, ErrorTypeCircuitOpen))
	assert.False(t, IsType(err, ErrorTypeConnection))

	// through wrapping and fmt.Errorf
	wrapped := fmt.Errorf("request failed: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeCircuitOpen))

	assert.False(t, IsType(stderrors.New("plain"), ErrorTypeInternal))
	assert.False(t, IsType(nil, ErrorTypeInternal))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrorTypeConnection, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeSchema, true},
		{ErrorTypeConfig, false},
		{ErrorTypeCircuitOpen, false},
		{ErrorTypeAllSourcesFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(New(tt.errType, "x")))
		})
	}
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestCountsAsBreakerFailure(t *testing.T) {
	assert.True(t, CountsAsBreakerFailure(New(ErrorTypeConnection, "down")))
	assert.True(t, CountsAsBreakerFailure(New(ErrorTypeTimeout, "slow")))
	assert.True(t, CountsAsBreakerFailure(stderrors.New("unclassified")))

	// vendor format changes and fast-fail rejections are not vendor outages
	assert.False(t, CountsAsBreakerFailure(New(ErrorTypeSchema, "new columns")))
	assert.False(t, CountsAsBreakerFailure(New(ErrorTypeCircuitOpen, "rejected")))
	assert.False(t, CountsAsBreakerFailure(nil))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeValidation, "bad row").
		WithDetail("row", 7).
		WithDetail("column", "close")

	require.NotNil(t, err.Details)
	assert.Equal(t, 7, err.Details["row"])
	assert.Equal(t, "close", err.Details["column"])
}
