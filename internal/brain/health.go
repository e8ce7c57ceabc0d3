package brain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthProber checks the reply backend's standard gRPC health endpoint.
// Its Check method matches observability.HealthCheckFunc so it plugs
// straight into the readiness handler.
type HealthProber struct {
	addr string

	mu     sync.Mutex
	conn   *grpc.ClientConn
	client grpc_health_v1.HealthClient
}

// NewHealthProber creates a prober for the backend's health address
func NewHealthProber(addr string) *HealthProber {
	return &HealthProber{addr: addr}
}

// Check reports whether the backend answers SERVING
func (p *HealthProber) Check(ctx context.Context) (bool, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return false, err
	}

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}

	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// ensureClient dials lazily; the connection is reused and reconnects on its own
func (p *HealthProber) ensureClient(ctx context.Context) (grpc_health_v1.HealthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.DialContext(ctx, p.addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial health endpoint at %s: %w", p.addr, err)
	}

	p.conn = conn
	p.client = grpc_health_v1.NewHealthClient(conn)
	return p.client, nil
}

// Close releases the underlying connection
func (p *HealthProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		p.client = nil
		return err
	}
	return nil
}
