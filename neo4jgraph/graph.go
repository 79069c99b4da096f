// Package neo4jgraph implements the reflector's Graph API on Neo4j.
//
// Prepare a database with BootstrapDatabase before use; the uniqueness
// constraints it creates are what the reflector relies on to settle concurrent
// writes of the same entity.
package neo4jgraph

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/reflector"
)

// Graph implements reflector.Graph on a Neo4j database.
//
// Every operation runs in its own session and transaction. Graph holds no
// state besides its connection, and is safe for concurrent use.
type Graph struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name that identifies the specific underlying neo4j graph.
}

// New returns a Graph operating on the given database, which should have been
// prepared by BootstrapDatabase.
func New(driver neo4j.DriverWithContext, database string) *Graph {
	return &Graph{driver: driver, database: database}
}

var _ reflector.Graph = (*Graph)(nil)

// read runs work in a read transaction of a new session.
func (g *Graph) read(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (any, error) {
	return g.execute(ctx, op, neo4j.AccessModeRead, work)
}

// write runs work in a write transaction of a new session. The transaction is
// rolled back if work returns an error.
func (g *Graph) write(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (any, error) {
	return g.execute(ctx, op, neo4j.AccessModeWrite, work)
}

func (g *Graph) execute(ctx context.Context, op string, mode neo4j.AccessMode, work neo4j.ManagedTransactionWork) (v any, err error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("neo4j.database", g.database),
	))
	defer span.End()
	logger := component.Logger(ctx).With("neo4j.database", g.database)

	// We open a new session for every operation to ensure transactional isolation
	// and to prevent any state carryover between different operations.
	s := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.database,
		AccessMode:   mode,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close session", "error", err, "operation", op)
		}
	}()

	if mode == neo4j.AccessModeRead {
		v, err = s.ExecuteRead(ctx, work)
	} else {
		v, err = s.ExecuteWrite(ctx, work)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		measureFailure(ctx, op)
		return nil, classify(ctx, op, err)
	}
	return v, nil
}

// constraintValidationFailed is the status code Neo4j reports when a write
// violates a uniqueness or node key constraint.
const constraintValidationFailed = "Neo.ClientError.Schema.ConstraintValidationFailed"

// classify converts an error returned by the driver to the error categories
// the reflector understands.
//
// It panics if a Cypher query no longer returns what the surrounding code
// expects (errPropertyNotFound or unexpectedPropertyTypeError).
func classify(ctx context.Context, op string, err error) error {
	var neoErr *neo4j.Neo4jError
	switch {
	case reflector.IsNotFound(err) || reflector.IsConflict(err):
		// Already classified by the transaction work.
		return err
	case errors.As(err, &neoErr) && neoErr.Code == constraintValidationFailed:
		return reflector.Conflict("neo4j %v: %v", op, neoErr.Msg)
	case errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}):
		component.Logger(ctx).Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	case neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return reflector.Unavailable(err, "neo4j "+op)
	default:
		return fmt.Errorf("neo4j %v: %w", op, err)
	}
}

// A errPropertyNotFound occurs when a column of a record is missing.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying the surrounding code properly. Expect a panic
// eventually.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a column of a record has a runtime
// type that is different from the expected type. The error message contains the
// effective type of the column at runtime.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	return "unexpected property type: " + e.Type.String()
}

// The recordProperty interface defines generic constraints for supported values
// by getRecordProperty.
//
// These type constraints protect against unsupported neo4j types like int,
// uint32, etc.
type recordProperty interface {
	int64 | string | []any
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}

// getOptionalRecordProperty is like getRecordProperty, except that a null
// column yields the zero value.
func getOptionalRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	if prop == nil {
		return value, nil
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}
