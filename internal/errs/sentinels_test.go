package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpstreamError_Is(t *testing.T) {
	var err error = &UpstreamError{Status: 404, Message: "missing"}
	require.ErrorIs(t, err, ErrUpstream)
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrNetwork)

	err = fmt.Errorf("wrap: %w", &UpstreamError{Status: 500})
	require.ErrorIs(t, err, ErrUpstream)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, "wrap: upstream status 500", err.Error())

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	require.False(t, ue.Rejected())
	require.True(t, (&UpstreamError{Status: 400}).Rejected())
}

func TestNetworkError(t *testing.T) {
	err := &NetworkError{Op: "GET /x", Err: context.DeadlineExceeded}
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "GET /x")
}
