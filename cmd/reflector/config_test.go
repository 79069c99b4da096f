package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-digitaltwin/reflector"
)

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-inbound-url=mem://inbound",
		"-feedback-url=mem://feedback",
		"-graph=memory",
		"-tenant-resolver=static",
		"-tenant-name=acme",
		"-workers=3",
		"-log-level=debug",
	})
	if err != nil {
		t.Fatal("parseConfig:", err)
	}
	if cfg.graph != "memory" || cfg.tenantName != "acme" || cfg.workers != 3 {
		t.Errorf("parseConfig() = %+v", cfg)
	}
	if cfg.logLevel != slog.LevelDebug {
		t.Errorf("log level = %v, want %v", cfg.logLevel, slog.LevelDebug)
	}
	if cfg.provision != reflector.DefaultProvisionOptions {
		t.Errorf("provision options = %+v, want defaults", cfg.provision)
	}
}

func TestParseConfig_env(t *testing.T) {
	t.Setenv("REFLECTOR_INBOUND_URL", "mem://inbound")
	t.Setenv("REFLECTOR_FEEDBACK_URL", "mem://feedback")
	t.Setenv("REFLECTOR_REDIS_TTL", "1m")
	t.Setenv("REFLECTOR_WORKERS", "5")

	// Flags win over the environment.
	cfg, err := parseConfig([]string{"-workers=2"})
	if err != nil {
		t.Fatal("parseConfig:", err)
	}
	if cfg.inboundURL != "mem://inbound" || cfg.feedbackURL != "mem://feedback" {
		t.Errorf("bus urls = %q, %q", cfg.inboundURL, cfg.feedbackURL)
	}
	if cfg.redisTTL != time.Minute {
		t.Errorf("redis ttl = %v, want 1m", cfg.redisTTL)
	}
	if cfg.workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.workers)
	}
}

func TestParseConfig_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reflector.conf")
	content := "inbound-url mem://inbound\nfeedback-url mem://feedback\nhttp-addr :9090\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := parseConfig([]string{"-config", path})
	if err != nil {
		t.Fatal("parseConfig:", err)
	}
	if cfg.httpAddr != ":9090" {
		t.Errorf("http addr = %q, want :9090", cfg.httpAddr)
	}
}

func TestParseConfig_invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "MissingBus",
			args: nil,
			want: "-inbound-url is required",
		},
		{
			name: "UnknownGraph",
			args: []string{"-inbound-url=mem://a", "-feedback-url=mem://b", "-graph=sql"},
			want: `unknown backend "sql"`,
		},
		{
			name: "StaticWithoutTenant",
			args: []string{"-inbound-url=mem://a", "-feedback-url=mem://b", "-tenant-resolver=static"},
			want: "requires -tenant-id or -tenant-name",
		},
		{
			name: "InvalidTenantID",
			args: []string{"-inbound-url=mem://a", "-feedback-url=mem://b", "-tenant-id=acme"},
			want: "-tenant-id",
		},
		{
			name: "ProvisionWithoutTenant",
			args: []string{"-inbound-url=mem://a", "-feedback-url=mem://b", "-provision-iothub"},
			want: "provisioning requires",
		},
		{
			name: "ZeroInterval",
			args: []string{"-inbound-url=mem://a", "-feedback-url=mem://b", "-provision-interval=0s"},
			want: "-provision-interval must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("parseConfig(%q) error = %v, want containing %q", tt.args, err, tt.want)
			}
		})
	}
}
