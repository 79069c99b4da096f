package dbtest

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jtest "github.com/testcontainers/testcontainers-go/modules/neo4j"

	"github.com/go-digitaltwin/reflector"
)

// Neo4jImage is the image of the Neo4j container. The enterprise variant is the
// one that supports multiple databases, which neo4jgraph.BootstrapDatabase
// creates.
//
// See <https://hub.docker.com/_/neo4j> for more images.
const Neo4jImage = "docker.io/neo4j:5-enterprise"

// neo4jBrowser is the port of the Neo4j browser, logged for inspection.
const neo4jBrowser = nat.Port("7474/tcp")

// connectivity bounds the wait for a freshly started Neo4j to accept sessions;
// the container may report ready slightly before the server is.
var connectivity = reflector.PollOptions{
	Interval: 100 * time.Millisecond,
	Timeout:  30 * time.Second,
}

// SetupNeo4j runs a Neo4j container without authentication and returns a
// driver connected to it. The driver is closed during cleanup of t.
//
// What counts as a standard instance may change over time. Tests that rely on a
// particular deployment detail should run their own container instead.
func SetupNeo4j(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	begin(t)
	ctx := context.Background()

	container, err := neo4jtest.Run(ctx, Neo4jImage, customize(t,
		neo4jtest.WithoutAuthentication(),
		neo4jtest.WithAcceptCommercialLicenseAgreement(),
	)...)
	if err != nil {
		t.Fatal("Failed to run neo4j container:", err)
	}
	inspect := terminateOnCleanup(t, container, "neo4j")

	boltURL, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatal("Failed to get bolt url:", err)
	}
	browser, err := container.PortEndpoint(ctx, neo4jBrowser, "http")
	if err != nil {
		t.Fatal("Failed to get browser endpoint:", err)
	}

	driver, err := neo4j.NewDriverWithContext(boltURL, neo4j.NoAuth())
	if err != nil {
		t.Fatal("Failed to open neo4j driver:", err)
	}
	t.Cleanup(func() {
		if err := driver.Close(ctx); err != nil {
			t.Error("Encountered an error during cleanup while closing the neo4j driver:", err)
		}
	})

	attempts := 0
	_, err = reflector.Poll(ctx, connectivity, func(ctx context.Context) (struct{}, bool, error) {
		attempts++
		if err := driver.VerifyConnectivity(ctx); err != nil {
			t.Logf("Neo4j is not reachable yet (attempt %d): %v", attempts, err)
			return struct{}{}, false, nil
		}
		return struct{}{}, true, nil
	})
	if err != nil {
		t.Fatalf("Failed to connect to neo4j after %d attempts: %v", attempts, err)
	}

	inspect(
		fmt.Sprintf("Browser URL = %s/browser?preselectAuthMethod=%s&dbms=%s", browser, url.QueryEscape("[NO_AUTH]"), url.QueryEscape(boltURL)),
		fmt.Sprintf("Bolt URL = %s", boltURL),
	)
	return driver
}
