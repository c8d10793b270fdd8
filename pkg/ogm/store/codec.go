package store

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// nodeRecord and edgeRecord are the persisted forms of graph.Node and
// graph.Edge. Ids live in the keys.
type nodeRecord struct {
	Labels     []string       `msgpack:"l"`
	Properties map[string]any `msgpack:"p"`
}

type edgeRecord struct {
	Type       string         `msgpack:"t"`
	Start      int64          `msgpack:"s"`
	End        int64          `msgpack:"e"`
	Properties map[string]any `msgpack:"p"`
}

func encodeRecord(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decodeNodeRecord(data []byte) (nodeRecord, error) {
	var rec nodeRecord
	if err := decodeRecord(data, &rec); err != nil {
		return nodeRecord{}, err
	}
	rec.Properties = normalizeProperties(rec.Properties)
	return rec, nil
}

func decodeEdgeRecord(data []byte) (edgeRecord, error) {
	var rec edgeRecord
	if err := decodeRecord(data, &rec); err != nil {
		return edgeRecord{}, err
	}
	rec.Properties = normalizeProperties(rec.Properties)
	return rec, nil
}

func decodeRecord(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// normalizeProperties widens decoded numbers to int64 and float64, the
// forms the flattener writes.
func normalizeProperties(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	for k, v := range props {
		props[k] = normalizeValue(v)
	}
	return props
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val)
		}
		return val
	case float32:
		return float64(val)
	case []any:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	case map[string]any:
		return normalizeProperties(val)
	}
	return v
}
