package types

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Embeddings are stored as JSON arrays so the same row shape works on sqlite
// and postgres. Vectors are small (D=1024) and read once at index load.

func EncodeVector(v []float32) (datatypes.JSON, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("encode vector: empty")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return datatypes.JSON(b), nil
}

func DecodeVector(raw datatypes.JSON) ([]float32, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode vector: empty")
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return v, nil
}

func EncodeMeta(m map[string]any) (datatypes.JSON, error) {
	if m == nil {
		return datatypes.JSON([]byte(`{}`)), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(b), nil
}

func DecodeMeta(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
