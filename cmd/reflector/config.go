package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v3"

	"github.com/go-digitaltwin/reflector"
)

// config is read from flags, REFLECTOR_* environment variables and an optional
// config file. Flags win over the environment, which wins over the file.
type config struct {
	inboundURL  string
	feedbackURL string
	trackURL    string

	graph         string
	neo4jURI      string
	neo4jUser     string
	neo4jPassword string
	neo4jDatabase string

	resolver   string
	tenantID   string
	gatewayID  string
	tenantName string
	redisAddr  string
	redisTTL   time.Duration

	provisionIoTHub bool
	eventHub        reflector.EventHubConfig
	provision       reflector.ProvisionOptions

	workers       int
	handleTimeout time.Duration
	httpAddr      string
	logLevel      slog.Level
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("reflector", flag.ContinueOnError)
	var c config

	fs.StringVar(&c.inboundURL, "inbound-url", "", "gocloud.dev/pubsub subscription `URL` of inbound messages")
	fs.StringVar(&c.feedbackURL, "feedback-url", "", "gocloud.dev/pubsub topic `URL` that feedback is published to")
	fs.StringVar(&c.trackURL, "track-url", "", "optional subscription `URL` of published feedback, served over HTTP")

	fs.StringVar(&c.graph, "graph", "neo4j", "graph backend: neo4j or memory")
	fs.StringVar(&c.neo4jURI, "neo4j-uri", "neo4j://localhost:7687", "neo4j connection `URI`")
	fs.StringVar(&c.neo4jUser, "neo4j-user", "", "neo4j user (empty for no authentication)")
	fs.StringVar(&c.neo4jPassword, "neo4j-password", "", "neo4j password")
	fs.StringVar(&c.neo4jDatabase, "neo4j-database", "reflector", "neo4j database, created if missing")

	fs.StringVar(&c.resolver, "tenant-resolver", "graph", "tenant resolution: graph (by sending gateway) or static")
	fs.StringVar(&c.tenantID, "tenant-id", "", "static tenant space `id`")
	fs.StringVar(&c.gatewayID, "gateway-id", "", "static gateway device `id`")
	fs.StringVar(&c.tenantName, "tenant-name", "", "name of a tenant space to ensure at startup; used as the static tenant")
	fs.StringVar(&c.redisAddr, "redis-addr", "", "redis `address` caching graph tenant resolution (empty disables the cache)")
	fs.DurationVar(&c.redisTTL, "redis-ttl", 0, "lifetime of cached tenants (0 for the default)")

	fs.BoolVar(&c.provisionIoTHub, "provision-iothub", false, "ensure the tenant's IoTHub at startup")
	fs.StringVar(&c.eventHub.Path, "eventhub-path", "", "event hub namespace path; ensures a device event endpoint at startup when set")
	fs.StringVar(&c.eventHub.Hub, "eventhub-name", "", "event hub name")
	fs.StringVar(&c.eventHub.ConnectionString, "eventhub-connection-string", "", "primary event hub connection string")
	fs.StringVar(&c.eventHub.SecondaryConnectionString, "eventhub-secondary-connection-string", "", "secondary event hub connection string")
	fs.DurationVar(&c.provision.InitialDelay, "provision-initial-delay", reflector.DefaultProvisionOptions.InitialDelay, "wait before the first readiness check")
	fs.DurationVar(&c.provision.Interval, "provision-interval", reflector.DefaultProvisionOptions.Interval, "wait between readiness checks")
	fs.DurationVar(&c.provision.Timeout, "provision-timeout", reflector.DefaultProvisionOptions.Timeout, "ceiling of the wait for readiness")

	fs.IntVar(&c.workers, "workers", reflector.DefaultWorkers, "messages handled concurrently")
	fs.DurationVar(&c.handleTimeout, "handle-timeout", 30*time.Second, "bound of the graph operations of a single message (0 for none)")
	fs.StringVar(&c.httpAddr, "http-addr", ":8080", "listen `address` of the HTTP API (empty disables it)")
	fs.TextVar(&c.logLevel, "log-level", slog.LevelInfo, "minimum `level` of logs")
	fs.String("config", "", "config file (optional)")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("REFLECTOR"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	if err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c config) validate() error {
	var errs []error
	if c.inboundURL == "" {
		errs = append(errs, errors.New("-inbound-url is required"))
	}
	if c.feedbackURL == "" {
		errs = append(errs, errors.New("-feedback-url is required"))
	}
	switch c.graph {
	case "neo4j", "memory":
	default:
		errs = append(errs, fmt.Errorf("-graph: unknown backend %q", c.graph))
	}
	switch c.resolver {
	case "graph":
	case "static":
		if c.tenantID == "" && c.tenantName == "" {
			errs = append(errs, errors.New("-tenant-resolver=static requires -tenant-id or -tenant-name"))
		}
	default:
		errs = append(errs, fmt.Errorf("-tenant-resolver: unknown resolver %q", c.resolver))
	}
	if c.tenantID != "" {
		if _, err := uuid.Parse(c.tenantID); err != nil {
			errs = append(errs, fmt.Errorf("-tenant-id: %w", err))
		}
	}
	if c.gatewayID != "" {
		if _, err := uuid.Parse(c.gatewayID); err != nil {
			errs = append(errs, fmt.Errorf("-gateway-id: %w", err))
		}
	}
	if (c.provisionIoTHub || c.eventHub.Path != "") && c.tenantID == "" && c.tenantName == "" {
		errs = append(errs, errors.New("provisioning requires -tenant-id or -tenant-name"))
	}
	if c.provision.Interval <= 0 {
		errs = append(errs, errors.New("-provision-interval must be positive"))
	}
	return errors.Join(errs...)
}
