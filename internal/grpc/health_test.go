package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type stubClock struct{ err error }

func (c *stubClock) Now(ctx context.Context) (int64, error) {
	return 1, c.err
}

func TestCheckReflectsStore(t *testing.T) {
	clock := &stubClock{}
	srv := NewHealthServer("127.0.0.1:0", clock, time.Second, nil)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, srv.Check(context.Background()))
	resp, err := srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	clock.err = errors.New("store unavailable")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, srv.Check(context.Background()))
	resp, err = srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
