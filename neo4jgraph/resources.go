package neo4jgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/reflector"
)

const resourceColumns = `
	r.id AS id, r.kind AS kind, r.space AS space, r.path AS path,
	r.connectionString AS connectionString,
	r.secondaryConnectionString AS secondaryConnectionString,
	r.eventTypes AS eventTypes, r.status AS status
`

func (g *Graph) RetrieveResources(ctx context.Context, q reflector.ResourceQuery) ([]reflector.ProvisionedResource, error) {
	v, err := g.read(ctx, "RetrieveResources", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (r:Resource)
			WHERE ($kind IS NULL OR r.kind = $kind)
			  AND ($space IS NULL OR r.space = $space)
			RETURN `+resourceColumns+`
			ORDER BY id
		`, map[string]any{
			"kind":  optionalString(string(q.Kind)),
			"space": optionalUUID(q.Space),
		})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		resources := make([]reflector.ProvisionedResource, 0, len(records))
		for _, r := range records {
			res, err := parseResource(r)
			if err != nil {
				return nil, err
			}
			resources = append(resources, res)
		}
		return resources, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]reflector.ProvisionedResource), nil
}

func (g *Graph) RetrieveResource(ctx context.Context, id uuid.UUID) (reflector.ProvisionedResource, error) {
	v, err := g.read(ctx, "RetrieveResource", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (r:Resource {id: $id})
			RETURN `+resourceColumns, map[string]any{"id": id.String()})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, reflector.NotFound("resource %v", id)
		}
		return parseResource(records[0])
	})
	if err != nil {
		return reflector.ProvisionedResource{}, err
	}
	return v.(reflector.ProvisionedResource), nil
}

func parseResource(r *neo4j.Record) (res reflector.ProvisionedResource, err error) {
	if res.ID, err = getUUID(r, "id"); err != nil {
		return res, fmt.Errorf("id: %w", err)
	}
	kind, err := getRecordProperty[string](r, "kind")
	if err != nil {
		return res, fmt.Errorf("kind: %w", err)
	}
	res.Kind = reflector.ResourceKind(kind)
	if res.Space, err = getUUID(r, "space"); err != nil {
		return res, fmt.Errorf("space: %w", err)
	}
	if res.Path, err = getOptionalRecordProperty[string](r, "path"); err != nil {
		return res, fmt.Errorf("path: %w", err)
	}
	if res.ConnectionString, err = getOptionalRecordProperty[string](r, "connectionString"); err != nil {
		return res, fmt.Errorf("connectionString: %w", err)
	}
	if res.SecondaryConnectionString, err = getOptionalRecordProperty[string](r, "secondaryConnectionString"); err != nil {
		return res, fmt.Errorf("secondaryConnectionString: %w", err)
	}
	if res.EventTypes, err = getStrings(r, "eventTypes"); err != nil {
		return res, fmt.Errorf("eventTypes: %w", err)
	}
	if res.Status, err = getRecordProperty[string](r, "status"); err != nil {
		return res, fmt.Errorf("status: %w", err)
	}
	return res, nil
}

// CreateResource records a resource for the external provisioning system to
// pick up. Resources are created Provisioning unless desired says otherwise.
func (g *Graph) CreateResource(ctx context.Context, desired reflector.ProvisionedResource) (uuid.UUID, error) {
	id := uuid.New()
	status := desired.Status
	if status == "" {
		status = reflector.ResourceProvisioning
	}
	eventTypes := make([]any, len(desired.EventTypes))
	for i, t := range desired.EventTypes {
		eventTypes[i] = t
	}
	_, err := g.write(ctx, "CreateResource", func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			CREATE (:Resource {
				id: $id, kind: $kind, space: $space, path: $path,
				connectionString: $connectionString,
				secondaryConnectionString: $secondaryConnectionString,
				eventTypes: $eventTypes, status: $status
			})
		`, map[string]any{
			"id":                        id.String(),
			"kind":                      string(desired.Kind),
			"space":                     desired.Space.String(),
			"path":                      desired.Path,
			"connectionString":          desired.ConnectionString,
			"secondaryConnectionString": desired.SecondaryConnectionString,
			"eventTypes":                eventTypes,
			"status":                    status,
		})
		return nil, err
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// UpdateResourceStatus records a status transition of a resource. It is called
// on behalf of the external provisioning system, never by the reflector itself.
func (g *Graph) UpdateResourceStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := g.write(ctx, "UpdateResourceStatus", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (r:Resource {id: $id})
			SET r.status = $status
			RETURN r.id AS id
		`, map[string]any{"id": id.String(), "status": status})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, reflector.NotFound("resource %v", id)
		}
		return nil, nil
	})
	return err
}
