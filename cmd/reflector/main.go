// Command reflector mirrors the device and sensor messages of a bus into the
// digital-twin graph, and publishes the outcome of every message as feedback.
//
// Usage:
//
//	reflector -inbound-url=<subscription> -feedback-url=<topic> [flags]
//
// Every flag may also be set with a REFLECTOR_ prefixed environment variable,
// e.g. REFLECTOR_NEO4J_URI for -neo4j-uri.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"

	"github.com/go-digitaltwin/reflector"
	"github.com/go-digitaltwin/reflector/httpapi"
	"github.com/go-digitaltwin/reflector/memgraph"
	"github.com/go-digitaltwin/reflector/neo4jgraph"
	"github.com/go-digitaltwin/reflector/rediscache"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "reflector:", err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel})))

	component.RunProc(func(l *component.L) {
		ctx, stop := signal.NotifyContext(l.GraceContext(), os.Interrupt, syscall.SIGTERM)
		l.CleanupBackground(func(context.Context) error {
			stop()
			return nil
		})
		if err := run(ctx, l, cfg); err != nil {
			l.Fatal(err)
		}
	})
}

// run opens the bus and the graph, provisions what the configuration asks for,
// and starts the ingress pipeline. Everything it starts stops once ctx is done.
func run(ctx context.Context, l *component.L, cfg config) error {
	logger := component.Logger(l.Context())

	logger.Debug("Opening feedback topic...", slog.String("url", cfg.feedbackURL))
	feedback, err := pubsub.OpenTopic(ctx, cfg.feedbackURL)
	if err != nil {
		return fmt.Errorf("open feedback topic: %w", err)
	}
	l.CleanupContext(feedback.Shutdown)

	tracker := new(reflector.Tracker)
	if cfg.trackURL != "" {
		logger.Debug("Opening feedback subscription...", slog.String("url", cfg.trackURL))
		sub, err := pubsub.OpenSubscription(ctx, cfg.trackURL)
		if err != nil {
			return fmt.Errorf("open feedback subscription: %w", err)
		}
		l.CleanupBackground(sub.Shutdown)
		l.Go("track feedback", func(l *component.L) {
			if err := tracker.Consume(ctx, sub); err != nil {
				l.Fatal(fmt.Errorf("track feedback: %w", err))
			}
		})
	}

	g, err := openGraph(ctx, l, cfg)
	if err != nil {
		return err
	}

	tenant, err := provision(ctx, g, cfg)
	if err != nil {
		return err
	}

	tenants := tenantResolver(l, g, cfg, tenant)

	logger.Debug("Opening inbound subscription...", slog.String("url", cfg.inboundURL))
	inbound, err := pubsub.OpenSubscription(ctx, cfg.inboundURL)
	if err != nil {
		return fmt.Errorf("open inbound subscription: %w", err)
	}
	l.CleanupBackground(inbound.Shutdown)
	logger.Info("Bus opened successfully")

	p := reflector.NewPipeline(g, tenants, reflector.FeedbackEmitter{Topic: feedback})
	p.Workers = cfg.workers
	p.HandleTimeout = cfg.handleTimeout
	l.Go("ingress", func(l *component.L) {
		if err := p.Serve(ctx, inbound); err != nil {
			l.Fatal(fmt.Errorf("serve: %w", err))
		}
	})

	if cfg.httpAddr != "" {
		serveHTTP(ctx, l, cfg.httpAddr, httpapi.NewServer(tracker))
	}
	return nil
}

func openGraph(ctx context.Context, l *component.L, cfg config) (reflector.Graph, error) {
	if cfg.graph == "memory" {
		component.Logger(l.Context()).Warn("Using an in-memory graph; it is lost on exit")
		return memgraph.New(), nil
	}

	auth := neo4j.NoAuth()
	if cfg.neo4jUser != "" {
		auth = neo4j.BasicAuth(cfg.neo4jUser, cfg.neo4jPassword, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.neo4jURI, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	l.CleanupContext(driver.Close)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connect to neo4j: %w", err)
	}
	if err := neo4jgraph.BootstrapDatabase(ctx, driver, cfg.neo4jDatabase); err != nil {
		return nil, fmt.Errorf("bootstrap neo4j: %w", err)
	}
	return neo4jgraph.New(driver, cfg.neo4jDatabase), nil
}

// provision ensures the tenant and its infrastructure exist before any message
// is handled, and returns the tenant's id (uuid.Nil when none is configured).
func provision(ctx context.Context, g reflector.Graph, cfg config) (uuid.UUID, error) {
	var tenant uuid.UUID
	if cfg.tenantID != "" {
		tenant = uuid.MustParse(cfg.tenantID)
	}
	p := reflector.Provisioner{Graph: g, Options: cfg.provision}

	if cfg.tenantName != "" {
		id, err := p.EnsureTenant(ctx, cfg.tenantName)
		if err != nil {
			return tenant, fmt.Errorf("ensure tenant %q: %w", cfg.tenantName, err)
		}
		if tenant != uuid.Nil && tenant != id {
			return tenant, fmt.Errorf("tenant %q has id %s, not %s", cfg.tenantName, id, tenant)
		}
		tenant = id
	}
	if cfg.provisionIoTHub {
		if _, err := p.EnsureIoTHub(ctx, tenant); err != nil {
			return tenant, fmt.Errorf("ensure iothub: %w", err)
		}
	}
	if cfg.eventHub.Path != "" {
		if _, err := p.EnsureDeviceEventEndpoint(ctx, tenant, cfg.eventHub); err != nil {
			return tenant, fmt.Errorf("ensure device event endpoint: %w", err)
		}
	}
	return tenant, nil
}

func tenantResolver(l *component.L, g reflector.Graph, cfg config, tenant uuid.UUID) reflector.TenantResolver {
	if cfg.resolver == "static" {
		tc := reflector.StaticTenant{Tenant: tenant}
		if cfg.gatewayID != "" {
			tc.Gateway = uuid.NullUUID{UUID: uuid.MustParse(cfg.gatewayID), Valid: true}
		}
		return tc
	}

	var r reflector.TenantResolver = reflector.GraphTenantResolver{Graph: g}
	if cfg.redisAddr == "" {
		return r
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	l.CleanupBackground(func(context.Context) error { return client.Close() })
	if err := client.Ping(l.Context()).Err(); err != nil {
		// The cache falls through to the graph while Redis is unreachable.
		component.Logger(l.Context()).Warn("Redis is unreachable; resolving tenants from the graph", slog.Any("error", err))
	}
	return rediscache.TenantResolver{Client: client, Next: r, TTL: cfg.redisTTL}
}

func serveHTTP(ctx context.Context, l *component.L, addr string, s *httpapi.Server) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return l.Context() },
	}
	l.Go("http", func(l *component.L) {
		component.Logger(l.Context()).Info("Serving HTTP", slog.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			l.Fatal(fmt.Errorf("serve http: %w", err))
		}
	})
	l.Go("http shutdown", func(l *component.L) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			component.Logger(l.Context()).Error("Failed to shut down HTTP server", slog.Any("error", err))
		}
	})
}
