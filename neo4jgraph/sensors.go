package neo4jgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/reflector"
)

func (g *Graph) RetrieveSensors(ctx context.Context, q reflector.SensorQuery) ([]reflector.Sensor, error) {
	v, err := g.read(ctx, "RetrieveSensors", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (s:Sensor)-[:ATTACHED_TO]->(d:Device)
			WHERE ($ids IS NULL OR s.id IN $ids)
			  AND ($hardwareIds IS NULL OR s.hardwareId IN $hardwareIds)
			  AND ($typeIds IS NULL OR s.typeId IN $typeIds)
			  AND ($device IS NULL OR d.id = $device)
			RETURN s.id AS id, s.hardwareId AS hardwareId, s.typeId AS typeId,
			       s.dataTypeId AS dataTypeId, d.id AS device, s.space AS space
			ORDER BY id
		`, map[string]any{
			"ids":         uuidList(q.IDs),
			"hardwareIds": stringList(q.HardwareIDs),
			"typeIds":     intList(q.TypeIDs),
			"device":      optionalUUID(q.Device),
		})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		sensors := make([]reflector.Sensor, 0, len(records))
		for _, r := range records {
			s, err := parseSensor(r)
			if err != nil {
				return nil, err
			}
			sensors = append(sensors, s)
		}
		return sensors, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]reflector.Sensor), nil
}

func parseSensor(r *neo4j.Record) (s reflector.Sensor, err error) {
	if s.ID, err = getUUID(r, "id"); err != nil {
		return s, fmt.Errorf("id: %w", err)
	}
	if s.HardwareID, err = getRecordProperty[string](r, "hardwareId"); err != nil {
		return s, fmt.Errorf("hardwareId: %w", err)
	}
	if s.TypeID, err = getInt(r, "typeId"); err != nil {
		return s, fmt.Errorf("typeId: %w", err)
	}
	if s.DataTypeID, err = getInt(r, "dataTypeId"); err != nil {
		return s, fmt.Errorf("dataTypeId: %w", err)
	}
	if s.Device, err = getUUID(r, "device"); err != nil {
		return s, fmt.Errorf("device: %w", err)
	}
	if s.Space, err = getUUID(r, "space"); err != nil {
		return s, fmt.Errorf("space: %w", err)
	}
	return s, nil
}

// CreateSensor attaches a new sensor to its device. It fails with a not-found
// error if the device does not exist.
func (g *Graph) CreateSensor(ctx context.Context, s reflector.Sensor) (uuid.UUID, error) {
	id := uuid.New()
	_, err := g.write(ctx, "CreateSensor", func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (d:Device {id: $device})
			CREATE (s:Sensor {
				id: $id, hardwareId: $hardwareId, typeId: $typeId,
				dataTypeId: $dataTypeId, space: $space
			})-[:ATTACHED_TO]->(d)
			RETURN s.id AS id
		`, map[string]any{
			"id":         id.String(),
			"hardwareId": s.HardwareID,
			"typeId":     int64(s.TypeID),
			"dataTypeId": int64(s.DataTypeID),
			"device":     s.Device.String(),
			"space":      s.Space.String(),
		})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, reflector.NotFound("device %v", s.Device)
		}
		return nil, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (g *Graph) DeleteSensor(ctx context.Context, id uuid.UUID) error {
	return g.delete(ctx, "DeleteSensor", `
		MATCH (s:Sensor {id: $id})
		DETACH DELETE s
		RETURN count(*) AS deleted
	`, id, "sensor")
}
