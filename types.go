package reflector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
)

// TypeRegistry resolves human-readable (name, category) pairs to the ids of the
// types they name within a tenant, creating types on first use.
//
// A TypeRegistry takes no local lock. Concurrent first use of the same type is
// settled by the uniqueness constraint of the TypeStore: the loser of the race
// observes a conflict, re-reads, and returns the winner's id.
type TypeRegistry struct {
	Types TypeStore
}

// GetOrCreate returns the id of the type with the given name and category in
// the given tenant. It creates that type if it does not exist yet.
//
// Calling GetOrCreate repeatedly with the same arguments returns the same id and
// creates at most one type.
func (r TypeRegistry) GetOrCreate(ctx context.Context, name string, category Category, tenant uuid.UUID) (int, error) {
	ctx, span := tracer.Start(ctx, "TypeRegistry.GetOrCreate")
	defer span.End()
	logger := component.Logger(ctx).With(
		slog.String("type.name", name),
		slog.String("type.category", string(category)),
	)

	if id, ok, err := r.find(ctx, logger, name, category, tenant); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	logger.Debug("Type not registered yet, creating it...")
	id, err := r.Types.CreateType(ctx, TypeDescriptor{Name: name, Category: category, Space: tenant})
	if IsConflict(err) {
		// A concurrent caller created the type between our read and our write.
		logger.Debug("Lost the race to create the type, reading the winner's id...")
		if id, ok, err := r.find(ctx, logger, name, category, tenant); err != nil {
			return 0, err
		} else if ok {
			return id, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("create type %v/%v: %w", category, name, err)
	}
	logger.Info("Type created", slog.Int("type.id", id))
	return id, nil
}

func (r TypeRegistry) find(ctx context.Context, logger *slog.Logger, name string, category Category, tenant uuid.UUID) (int, bool, error) {
	found, err := r.Types.RetrieveTypes(ctx, TypeQuery{
		Space:      tenant,
		Names:      []string{name},
		Categories: []Category{category},
	})
	if err != nil {
		return 0, false, fmt.Errorf("retrieve type %v/%v: %w", category, name, err)
	}
	if len(found) > 1 {
		// The store is expected to prevent this; the first match is as good as any
		// other, so we carry on.
		logger.Warn("Found duplicate types, using the first", slog.Int("matches", len(found)))
	}
	if len(found) == 0 {
		return 0, false, nil
	}
	return found[0].ID, true, nil
}
