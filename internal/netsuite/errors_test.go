package netsuite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCredentialError(t *testing.T) {
	require.True(t, IsCredentialError(&ConnectionError{Message: "account disconnected"}))
	require.True(t, IsCredentialError(&LoginError{Message: "invalid token"}))
	require.True(t, IsCredentialError(fmt.Errorf("create bill: %w", &LoginError{Message: "invalid token"})))

	require.False(t, IsCredentialError(&RateLimitError{Message: "slow down"}))
	require.False(t, IsCredentialError(errors.New("something else")))
	require.False(t, IsCredentialError(nil))
}

func TestIsRateLimited(t *testing.T) {
	require.True(t, IsRateLimited(&RateLimitError{Message: "concurrent limit"}))
	require.True(t, IsRateLimited(fmt.Errorf("create journal: %w", &RateLimitError{})))
	require.False(t, IsRateLimited(&Fault{Message: "anything"}))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Errors: []FieldError{
		{Field: "category", Message: "Invalid category reference key 123 for entity 456"},
		{Field: "currency", Message: "Invalid currency reference key 1"},
	}}
	require.Equal(t, "Invalid category reference key 123 for entity 456", err.Message())
	require.Contains(t, err.Error(), "Invalid currency reference key 1")

	empty := &ValidationError{}
	require.Equal(t, "validation error", empty.Message())
}

func TestFaultError(t *testing.T) {
	require.Equal(t, "USER_ERROR: Invalid account reference key 7.", (&Fault{Code: "USER_ERROR", Message: "Invalid account reference key 7."}).Error())
	require.Equal(t, "plain message", (&Fault{Message: "plain message"}).Error())
}
