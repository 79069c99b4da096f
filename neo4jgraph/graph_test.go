package neo4jgraph

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/reflector"
	"github.com/go-digitaltwin/reflector/graphtest"
	"github.com/go-digitaltwin/reflector/internal/dbtest"
)

func TestGraph(t *testing.T) {
	d := dbtest.SetupNeo4j(t)
	ctx := context.Background()
	if err := BootstrapDatabase(ctx, d, "reflector"); err != nil {
		t.Fatal("BootstrapDatabase:", err)
	}
	graphtest.Run(t, New(d, "reflector"))
}

func TestBootstrapDatabase(t *testing.T) {
	d := dbtest.SetupNeo4j(t)

	var tests = []struct {
		name     string
		database string
	}{
		{name: "Alphanumeric", database: "Aa1"},
		{name: "WithDash", database: "a-1"},
		{name: "UUID", database: "a1b2c3d4-e5f6-4a1b-9c2d-3e4f5a6b7c8d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			// Bootstrapping twice shows idempotence.
			for range 2 {
				if err := BootstrapDatabase(ctx, d, tt.database); err != nil {
					t.Fatalf("BootstrapDatabase() error = %v", err)
				}
			}

			session := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: tt.database})
			defer func() {
				if err := session.Close(ctx); err != nil {
					t.Fatal("Failed to close session:", err)
				}
			}()

			result, err := session.Run(ctx, "SHOW CONSTRAINTS YIELD name", nil)
			if err != nil {
				t.Fatal("Failed to list constraints:", err)
			}
			records, err := result.Collect(ctx)
			if err != nil {
				t.Fatal("Failed to collect constraints:", err)
			}
			found := make(map[string]bool)
			for _, r := range records {
				name, _ := r.Get("name")
				found[fmt.Sprint(name)] = true
			}
			for _, c := range constraints {
				name := strings.Fields(c)[2]
				if !found[name] {
					t.Errorf("Constraint %q is missing from database %q", name, tt.database)
				}
			}
		})
	}
}

func TestBootstrapDatabase_reserved(t *testing.T) {
	for _, name := range []string{"", "neo4j", "system2", "_private"} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("BootstrapDatabase(%q) did not panic", name)
				}
			}()
			// The name is checked before the driver is used.
			_ = createDatabase(context.Background(), nil, name)
		})
	}
}

func TestUpdateResourceStatus(t *testing.T) {
	d := dbtest.SetupNeo4j(t)
	ctx := context.Background()
	if err := BootstrapDatabase(ctx, d, "resources"); err != nil {
		t.Fatal("BootstrapDatabase:", err)
	}
	g := New(d, "resources")

	id, err := g.CreateResource(ctx, reflector.ProvisionedResource{
		Kind:       reflector.KindEventHub,
		Space:      uuid.New(),
		Path:       "hub",
		EventTypes: []string{reflector.EventDeviceMessage},
	})
	if err != nil {
		t.Fatal("CreateResource:", err)
	}
	if err := g.UpdateResourceStatus(ctx, id, reflector.ResourceReady); err != nil {
		t.Fatal("UpdateResourceStatus:", err)
	}
	res, err := g.RetrieveResource(ctx, id)
	if err != nil {
		t.Fatal("RetrieveResource:", err)
	}
	if !res.Ready() {
		t.Errorf("Resource status = %q, want ready", res.Status)
	}

	err = g.UpdateResourceStatus(ctx, uuid.New(), reflector.ResourceFailed)
	if !reflector.IsNotFound(err) {
		t.Errorf("UpdateResourceStatus(missing) error = %v, want not-found", err)
	}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want reflector.ErrorCode
	}{
		{
			name: "ConstraintViolation",
			err:  &neo4j.Neo4jError{Code: constraintValidationFailed, Msg: "already exists"},
			want: reflector.ErrorConflict,
		},
		{
			name: "Canceled",
			err:  fmt.Errorf("run: %w", context.Canceled),
			want: reflector.ErrorGraphUnavailable,
		},
		{
			name: "NotFound",
			err:  reflector.NotFound("device %v", "x"),
			want: reflector.ErrorEntityNotFound,
		},
		{
			name: "Other",
			err:  &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError", Msg: "bad"},
			want: reflector.ErrorInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reflector.Classify(classify(ctx, "op", tt.err)); got != tt.want {
				t.Errorf("Classify(classify(%v)) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
