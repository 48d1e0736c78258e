package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"steersim/engine/internal/config"
	"steersim/engine/internal/logging"
)

func TestHealthServerReportsServingBehindSharedSecret(t *testing.T) {
	opts, err := GRPCServerOptions(config.GRPCConfig{AuthMode: config.GRPCAuthModeSharedSecret, SharedSecret: "hunter2"}, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("GRPCServerOptions: %v", err)
	}
	lis := bufconn.Listen(1 << 20)
	server := NewHealthServer(opts...)
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	//1.- Calls without the secret are refused.
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	authed := metadata.AppendToOutgoingContext(ctx, SharedSecretMetadataKey, "hunter2")
	resp, err := client.Check(authed, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before the loop starts, got %v", resp.GetStatus())
	}

	//2.- Flipping the flag is visible to the next check, compressed calls included.
	server.SetServing(true)
	resp, err = client.Check(authed, &healthpb.HealthCheckRequest{Service: HealthService}, grpc.UseCompressor(CompressorName))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}
}

func TestHealthServerNilSafe(t *testing.T) {
	var server *HealthServer
	server.SetServing(true)
	server.Stop()
}
