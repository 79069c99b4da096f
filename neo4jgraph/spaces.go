package neo4jgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/reflector"
)

func (g *Graph) RetrieveSpaces(ctx context.Context, q reflector.SpaceQuery) ([]reflector.Space, error) {
	v, err := g.read(ctx, "RetrieveSpaces", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (s:Space)
			WHERE ($ids IS NULL OR s.id IN $ids)
			  AND ($name IS NULL OR s.name = $name)
			  AND ($parent IS NULL OR s.parent = $parent)
			RETURN s.id AS id, s.name AS name, s.friendlyName AS friendlyName,
			       s.description AS description, s.typeName AS typeName,
			       s.typeId AS typeId, s.subtypeId AS subtypeId, s.statusId AS statusId,
			       s.parent AS parent
			ORDER BY id
		`, map[string]any{
			"ids":    uuidList(q.IDs),
			"name":   optionalString(q.Name),
			"parent": optionalUUID(q.Parent),
		})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		spaces := make([]reflector.Space, 0, len(records))
		for _, r := range records {
			s, err := parseSpace(r)
			if err != nil {
				return nil, err
			}
			spaces = append(spaces, s)
		}
		return spaces, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]reflector.Space), nil
}

func parseSpace(r *neo4j.Record) (s reflector.Space, err error) {
	if s.ID, err = getUUID(r, "id"); err != nil {
		return s, fmt.Errorf("id: %w", err)
	}
	if s.Name, err = getRecordProperty[string](r, "name"); err != nil {
		return s, fmt.Errorf("name: %w", err)
	}
	if s.FriendlyName, err = getOptionalRecordProperty[string](r, "friendlyName"); err != nil {
		return s, fmt.Errorf("friendlyName: %w", err)
	}
	if s.Description, err = getOptionalRecordProperty[string](r, "description"); err != nil {
		return s, fmt.Errorf("description: %w", err)
	}
	if s.TypeName, err = getOptionalRecordProperty[string](r, "typeName"); err != nil {
		return s, fmt.Errorf("typeName: %w", err)
	}
	if s.TypeID, err = getInt(r, "typeId"); err != nil {
		return s, fmt.Errorf("typeId: %w", err)
	}
	if s.SubtypeID, err = getInt(r, "subtypeId"); err != nil {
		return s, fmt.Errorf("subtypeId: %w", err)
	}
	if s.StatusID, err = getInt(r, "statusId"); err != nil {
		return s, fmt.Errorf("statusId: %w", err)
	}
	if s.Parent, err = getOptionalUUID(r, "parent"); err != nil {
		return s, fmt.Errorf("parent: %w", err)
	}
	return s, nil
}

func (g *Graph) CreateSpace(ctx context.Context, s reflector.Space) (uuid.UUID, error) {
	id := uuid.New()
	_, err := g.write(ctx, "CreateSpace", func(tx neo4j.ManagedTransaction) (any, error) {
		// A child space is created only if its parent exists; otherwise the query
		// returns no rows.
		result, err := tx.Run(ctx, `
			OPTIONAL MATCH (p:Space {id: $parent})
			WITH p
			WHERE $parent IS NULL OR p IS NOT NULL
			CREATE (s:Space {
				id: $id, name: $name, friendlyName: $friendlyName, description: $description,
				typeName: $typeName, typeId: $typeId, subtypeId: $subtypeId, statusId: $statusId,
				parent: $parent
			})
			RETURN s.id AS id
		`, map[string]any{
			"id":           id.String(),
			"name":         s.Name,
			"friendlyName": s.FriendlyName,
			"description":  s.Description,
			"typeName":     s.TypeName,
			"typeId":       int64(s.TypeID),
			"subtypeId":    int64(s.SubtypeID),
			"statusId":     int64(s.StatusID),
			"parent":       optionalUUID(s.Parent),
		})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, reflector.NotFound("parent space %v", s.Parent.UUID)
		}
		return nil, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (g *Graph) DeleteSpace(ctx context.Context, id uuid.UUID) error {
	return g.delete(ctx, "DeleteSpace", `
		MATCH (s:Space {id: $id})
		DETACH DELETE s
		RETURN count(*) AS deleted
	`, id, "space")
}

// delete runs a query that deletes the node with the given id and returns the
// number of deleted nodes in column "deleted".
func (g *Graph) delete(ctx context.Context, op, query string, id uuid.UUID, kind string) error {
	_, err := g.write(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"id": id.String()})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		deleted, err := getRecordProperty[int64](record, "deleted")
		if err != nil {
			return nil, err
		}
		if deleted == 0 {
			return nil, reflector.NotFound("%v %v", kind, id)
		}
		return nil, nil
	})
	return err
}
