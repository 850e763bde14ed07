package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestHTTPCheckerAgainstRealContainer runs an HTTPChecker against a
// throwaway nginx container, exercising the HTTP readiness probe the
// same way pkg/sandbox's WaitForDesktop exercises it against a sandbox
// container's published port, without requiring a live containerd
// socket in this package's test run.
func TestHTTPCheckerAgainstRealContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in -short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
		WaitingFor:   wait.ForListeningPort("80/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("container runtime not available: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "80/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	checker := NewHTTPChecker(fmt.Sprintf("http://%s:%s/", host, port.Port()))
	result := checker.Check(ctx)
	if !result.Healthy {
		t.Fatalf("expected healthy, got: %s", result.Message)
	}
}
