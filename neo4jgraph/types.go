package neo4jgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/reflector"
)

func (g *Graph) RetrieveTypes(ctx context.Context, q reflector.TypeQuery) ([]reflector.TypeDescriptor, error) {
	var space any
	if q.Space != uuid.Nil {
		space = q.Space.String()
	}
	v, err := g.read(ctx, "RetrieveTypes", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:Type)
			WHERE ($space IS NULL OR t.space = $space)
			  AND ($names IS NULL OR t.name IN $names)
			  AND ($categories IS NULL OR t.category IN $categories)
			RETURN t.id AS id, t.name AS name, t.category AS category, t.space AS space
			ORDER BY id
		`, map[string]any{
			"space":      space,
			"names":      stringList(q.Names),
			"categories": stringList(q.Categories),
		})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		types := make([]reflector.TypeDescriptor, 0, len(records))
		for _, r := range records {
			t, err := parseType(r)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
		return types, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]reflector.TypeDescriptor), nil
}

func parseType(r *neo4j.Record) (t reflector.TypeDescriptor, err error) {
	id, err := getRecordProperty[int64](r, "id")
	if err != nil {
		return t, fmt.Errorf("id: %w", err)
	}
	t.ID = int(id)
	if t.Name, err = getRecordProperty[string](r, "name"); err != nil {
		return t, fmt.Errorf("name: %w", err)
	}
	category, err := getRecordProperty[string](r, "category")
	if err != nil {
		return t, fmt.Errorf("category: %w", err)
	}
	t.Category = reflector.Category(category)
	if t.Space, err = getUUID(r, "space"); err != nil {
		return t, fmt.Errorf("space: %w", err)
	}
	return t, nil
}

// CreateType assigns type ids from a sequence node, so that ids are small
// integers like those of the external graph API. A type that already exists
// fails the node key constraint on (space, name, category), and the sequence
// increment is rolled back with it.
func (g *Graph) CreateType(ctx context.Context, t reflector.TypeDescriptor) (int, error) {
	v, err := g.write(ctx, "CreateType", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (seq:TypeSequence {name: 'type'})
			ON CREATE SET seq.last = 0
			SET seq.last = seq.last + 1
			CREATE (t:Type {id: seq.last, name: $name, category: $category, space: $space})
			RETURN t.id AS id
		`, map[string]any{
			"name":     t.Name,
			"category": string(t.Category),
			"space":    t.Space.String(),
		})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return getRecordProperty[int64](record, "id")
	})
	if err != nil {
		return 0, err
	}
	return int(v.(int64)), nil
}
