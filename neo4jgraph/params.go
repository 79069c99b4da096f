package neo4jgraph

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Queries filter on optional parameters with `$p IS NULL OR ...`, so unset
// filters must be passed as null rather than as empty values.

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalUUID(id uuid.NullUUID) any {
	if !id.Valid {
		return nil
	}
	return id.UUID.String()
}

func uuidList(ids []uuid.UUID) any {
	if len(ids) == 0 {
		return nil
	}
	l := make([]any, len(ids))
	for i, id := range ids {
		l[i] = id.String()
	}
	return l
}

func stringList[S ~string](ss []S) any {
	if len(ss) == 0 {
		return nil
	}
	l := make([]any, len(ss))
	for i, s := range ss {
		l[i] = string(s)
	}
	return l
}

func intList(ns []int) any {
	if len(ns) == 0 {
		return nil
	}
	l := make([]any, len(ns))
	for i, n := range ns {
		l[i] = int64(n)
	}
	return l
}

func getUUID(r *neo4j.Record, key string) (uuid.UUID, error) {
	s, err := getRecordProperty[string](r, key)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}

func getOptionalUUID(r *neo4j.Record, key string) (uuid.NullUUID, error) {
	s, err := getOptionalRecordProperty[string](r, key)
	if err != nil || s == "" {
		return uuid.NullUUID{}, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

func getInt(r *neo4j.Record, key string) (int, error) {
	n, err := getOptionalRecordProperty[int64](r, key)
	return int(n), err
}

func getStrings(r *neo4j.Record, key string) ([]string, error) {
	l, err := getOptionalRecordProperty[[]any](r, key)
	if err != nil {
		return nil, err
	}
	ss := make([]string, 0, len(l))
	for _, v := range l {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("element of %v: %w", key, unexpectedPropertyTypeError{Type: reflect.TypeOf(v)})
		}
		ss = append(ss, s)
	}
	return ss, nil
}
