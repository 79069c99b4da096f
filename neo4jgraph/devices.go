package neo4jgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/reflector"
)

// Device properties are free-form, and Neo4j does not support map-valued
// properties, so they are stored encoded as a JSON object.

func encodeProperties(p map[string]string) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func decodeProperties(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var p map[string]string
	err := json.Unmarshal([]byte(s), &p)
	return p, err
}

func (g *Graph) RetrieveDevices(ctx context.Context, q reflector.DeviceQuery) ([]reflector.Device, error) {
	v, err := g.read(ctx, "RetrieveDevices", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Device)
			WHERE ($ids IS NULL OR d.id IN $ids)
			  AND ($hardwareIds IS NULL OR d.hardwareId IN $hardwareIds)
			  AND ($typeIds IS NULL OR d.typeId IN $typeIds)
			  AND ($space IS NULL OR d.space = $space)
			RETURN d.id AS id, d.hardwareId AS hardwareId, d.name AS name,
			       d.friendlyName AS friendlyName, d.description AS description,
			       d.typeId AS typeId, d.subtypeId AS subtypeId, d.space AS space,
			       d.gateway AS gateway, d.properties AS properties
			ORDER BY id
		`, map[string]any{
			"ids":         uuidList(q.IDs),
			"hardwareIds": stringList(q.HardwareIDs),
			"typeIds":     intList(q.TypeIDs),
			"space":       optionalUUID(q.Space),
		})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		devices := make([]reflector.Device, 0, len(records))
		for _, r := range records {
			d, err := parseDevice(r)
			if err != nil {
				return nil, err
			}
			devices = append(devices, d)
		}
		return devices, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]reflector.Device), nil
}

func parseDevice(r *neo4j.Record) (d reflector.Device, err error) {
	if d.ID, err = getUUID(r, "id"); err != nil {
		return d, fmt.Errorf("id: %w", err)
	}
	if d.HardwareID, err = getRecordProperty[string](r, "hardwareId"); err != nil {
		return d, fmt.Errorf("hardwareId: %w", err)
	}
	if d.Name, err = getOptionalRecordProperty[string](r, "name"); err != nil {
		return d, fmt.Errorf("name: %w", err)
	}
	if d.FriendlyName, err = getOptionalRecordProperty[string](r, "friendlyName"); err != nil {
		return d, fmt.Errorf("friendlyName: %w", err)
	}
	if d.Description, err = getOptionalRecordProperty[string](r, "description"); err != nil {
		return d, fmt.Errorf("description: %w", err)
	}
	if d.TypeID, err = getInt(r, "typeId"); err != nil {
		return d, fmt.Errorf("typeId: %w", err)
	}
	if d.SubtypeID, err = getInt(r, "subtypeId"); err != nil {
		return d, fmt.Errorf("subtypeId: %w", err)
	}
	if d.Space, err = getUUID(r, "space"); err != nil {
		return d, fmt.Errorf("space: %w", err)
	}
	if d.Gateway, err = getOptionalUUID(r, "gateway"); err != nil {
		return d, fmt.Errorf("gateway: %w", err)
	}
	properties, err := getOptionalRecordProperty[string](r, "properties")
	if err != nil {
		return d, fmt.Errorf("properties: %w", err)
	}
	if d.Properties, err = decodeProperties(properties); err != nil {
		return d, fmt.Errorf("decode properties of device %v: %w", d.ID, err)
	}
	return d, nil
}

func deviceParams(d reflector.Device) (map[string]any, error) {
	properties, err := encodeProperties(d.Properties)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	return map[string]any{
		"id":           d.ID.String(),
		"hardwareId":   d.HardwareID,
		"name":         d.Name,
		"friendlyName": d.FriendlyName,
		"description":  d.Description,
		"typeId":       int64(d.TypeID),
		"subtypeId":    int64(d.SubtypeID),
		"space":        d.Space.String(),
		"gateway":      optionalUUID(d.Gateway),
		"properties":   optionalString(properties),
	}, nil
}

func (g *Graph) CreateDevice(ctx context.Context, d reflector.Device) (uuid.UUID, error) {
	d.ID = uuid.New()
	params, err := deviceParams(d)
	if err != nil {
		return uuid.Nil, err
	}
	_, err = g.write(ctx, "CreateDevice", func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			CREATE (:Device {
				id: $id, hardwareId: $hardwareId, name: $name, friendlyName: $friendlyName,
				description: $description, typeId: $typeId, subtypeId: $subtypeId,
				space: $space, gateway: $gateway, properties: $properties
			})
		`, params)
		return nil, err
	})
	if err != nil {
		return uuid.Nil, err
	}
	return d.ID, nil
}

func (g *Graph) UpdateDevice(ctx context.Context, d reflector.Device) error {
	params, err := deviceParams(d)
	if err != nil {
		return err
	}
	_, err = g.write(ctx, "UpdateDevice", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Device {id: $id})
			SET d.hardwareId = $hardwareId, d.name = $name, d.friendlyName = $friendlyName,
			    d.description = $description, d.typeId = $typeId, d.subtypeId = $subtypeId,
			    d.space = $space, d.gateway = $gateway, d.properties = $properties
			RETURN d.id AS id
		`, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, reflector.NotFound("device %v", d.ID)
		}
		return nil, nil
	})
	return err
}

func (g *Graph) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	return g.delete(ctx, "DeleteDevice", `
		MATCH (d:Device {id: $id})
		OPTIONAL MATCH (s:Sensor)-[:ATTACHED_TO]->(d)
		WITH d, collect(s) AS sensors
		FOREACH (s IN sensors | DETACH DELETE s)
		DETACH DELETE d
		RETURN count(*) AS deleted
	`, id, "device")
}
