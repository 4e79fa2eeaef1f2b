package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func newHealthClient(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(zerolog.Nop())
	go s.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		s.Stop()
	})
	return s, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthFollowsHub(t *testing.T) {
	s, client := newHealthClient(t)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, ServiceName))

	s.MarkServing()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, ""))

	done := make(chan struct{})
	s.WatchHub(done)
	close(done)

	assert.Eventually(t, func() bool {
		return status(t, client, ServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMarkNotServingBeforeHubStops(t *testing.T) {
	s, client := newHealthClient(t)
	s.MarkServing()

	hubDone := make(chan struct{})
	defer close(hubDone)
	s.WatchHub(hubDone)

	s.MarkNotServing()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, ""))
}
