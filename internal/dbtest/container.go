package dbtest

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Inspect keeps the container of a failed test running until the test binary
// receives SIGINT. The testcontainers reaper still removes it eventually.
var Inspect = flag.Bool("dbtest.inspect", false, "keep test container running for inspection after a failed test completes")

// begin prepares t for a container-based test.
func begin(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping container-based test in short mode...")
	}
	t.Parallel()
}

// customize prepends a logger that writes to tb to the given customizers.
func customize(tb testing.TB, opts ...testcontainers.ContainerCustomizer) []testcontainers.ContainerCustomizer {
	return append([]testcontainers.ContainerCustomizer{testcontainers.WithLogger(log.TestLogger(tb))}, opts...)
}

// WithWaitForExposedPort extends the wait strategy of a container to wait for
// its exposed port as well. Use it with single-port containers whose image does
// not already wait for readiness.
func WithWaitForExposedPort() testcontainers.CustomizeRequestOption {
	return func(req *testcontainers.GenericContainerRequest) error {
		strategies := []wait.Strategy{wait.ForExposedPort()}
		if req.WaitingFor != nil {
			strategies = append(strategies, req.WaitingFor)
		}
		return testcontainers.WithWaitStrategy(strategies...).Customize(req)
	}
}

// terminateOnCleanup registers the termination of c with t. With Inspect set, a
// failed test first logs the given lines and waits for SIGINT.
func terminateOnCleanup(t *testing.T, c testcontainers.Container, name string) (inspect func(lines ...string)) {
	ctx := context.Background()
	t.Cleanup(func() {
		t.Logf("Terminating %s container %q...", name, c.GetContainerID())
		if err := c.Terminate(ctx); err != nil {
			t.Error("Encountered an error during cleanup; terminate container:", err)
		}
	})
	// Cleanups run last-in first-out, so the inspection registered by the caller
	// happens before termination.
	return func(lines ...string) {
		t.Cleanup(func() {
			if !t.Failed() || !*Inspect {
				return
			}
			t.Logf("Container %v is still running for inspection (Ctrl+C to terminate)...", c.GetContainerID())
			for _, line := range lines {
				t.Log(line)
			}
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt)
			defer signal.Stop(sig)
			<-sig
		})
	}
}
