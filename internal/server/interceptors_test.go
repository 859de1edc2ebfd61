package server_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcfix/fixrelay/internal/server"
)

// newFakeRequest builds a minimal AnyRequest. LoggingInterceptor and
// RecoveryInterceptor only ever read req.Spec().Procedure (empty here, a
// detail irrelevant to the behavior under test), so no generated service
// is needed to exercise them -- the admin surface itself carries no
// ConnectRPC service of its own, so there is
// nothing to round-trip an interceptor through except the health check,
// which never errors or panics on demand.
func newFakeRequest() connect.AnyRequest {
	return connect.NewRequest(&struct{}{})
}

func TestLoggingInterceptorSuccess(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	wrapped := server.LoggingInterceptor(logger)(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&struct{}{}), nil
	})

	resp, err := wrapped(context.Background(), newFakeRequest())
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestLoggingInterceptorError(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	wantErr := connect.NewError(connect.CodeNotFound, errors.New("no such session"))
	wrapped := server.LoggingInterceptor(logger)(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, wantErr
	})

	_, err := wrapped(context.Background(), newFakeRequest())
	require.Error(t, err)

	var connectErr *connect.Error
	require.True(t, errors.As(err, &connectErr))
	assert.Equal(t, connect.CodeNotFound, connectErr.Code())
}

func TestRecoveryInterceptorNoPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	wrapped := server.RecoveryInterceptor(logger)(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&struct{}{}), nil
	})

	resp, err := wrapped(context.Background(), newFakeRequest())
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestRecoveryInterceptorPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	wrapped := server.RecoveryInterceptor(logger)(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		panic("intentional test panic")
	})

	_, err := wrapped(context.Background(), newFakeRequest())
	require.Error(t, err)

	var connectErr *connect.Error
	require.True(t, errors.As(err, &connectErr))
	assert.Equal(t, connect.CodeInternal, connectErr.Code())
	assert.ErrorIs(t, err, server.ErrPanicRecovered)
}

func TestBothInterceptors(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	chain := server.LoggingInterceptor(logger)(
		server.RecoveryInterceptor(logger)(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			return connect.NewResponse(&struct{}{}), nil
		}))

	resp, err := chain(context.Background(), newFakeRequest())
	require.NoError(t, err)
	assert.NotNil(t, resp)
}
