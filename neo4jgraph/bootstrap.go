package neo4jgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// constraints are created by BootstrapDatabase. Hardware ids are unique across
// the graph, and types are unique per (space, name, category).
//
// We use key constraints instead of uniqueness constraints where we can (those
// are only available in the enterprise edition).
var constraints = []string{
	`CREATE CONSTRAINT space_id IF NOT EXISTS FOR (n:Space) REQUIRE n.id IS NODE KEY`,
	`CREATE CONSTRAINT device_id IF NOT EXISTS FOR (n:Device) REQUIRE n.id IS NODE KEY`,
	`CREATE CONSTRAINT device_hardware_id IF NOT EXISTS FOR (n:Device) REQUIRE n.hardwareId IS UNIQUE`,
	`CREATE CONSTRAINT sensor_id IF NOT EXISTS FOR (n:Sensor) REQUIRE n.id IS NODE KEY`,
	`CREATE CONSTRAINT sensor_hardware_id IF NOT EXISTS FOR (n:Sensor) REQUIRE n.hardwareId IS UNIQUE`,
	`CREATE CONSTRAINT type_id IF NOT EXISTS FOR (n:Type) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT type_key IF NOT EXISTS FOR (n:Type) REQUIRE (n.space, n.name, n.category) IS NODE KEY`,
	`CREATE CONSTRAINT type_sequence IF NOT EXISTS FOR (n:TypeSequence) REQUIRE n.name IS NODE KEY`,
	`CREATE CONSTRAINT resource_id IF NOT EXISTS FOR (n:Resource) REQUIRE n.id IS NODE KEY`,
}

// BootstrapDatabase creates the given database, and the constraints the
// reflector relies on in it.
//
// To execute queries against the created database, open a session with the
// database name as the default database. For example:
//
//	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
//	defer func() { _ = s.Close(ctx) }()
//	... use s ...
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	// Schema commands cannot share a transaction with each other, so each runs in
	// its own auto-commit transaction.
	for _, c := range constraints {
		if _, err := s.Run(ctx, c, nil); err != nil {
			return fmt.Errorf("create constraint %q: %w", c, err)
		}
	}
	return s.Close(ctx)
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jgraph: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jgraph: database name must not be neo4j: reserved for default database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jgraph: Names that begin with an underscore and with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	// create a new database if it does not exist
	_, err := s.Run(ctx, `
			CREATE DATABASE $name IF NOT EXISTS WAIT
		`, map[string]any{
		"name": name,
	})
	return err
}
