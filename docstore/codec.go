package docstore

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Encode converts a bson tagged struct into a Doc.
func Encode(v interface{}) (Doc, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}

	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	return Normalize(m), nil
}

// Decode fills the bson tagged struct v from doc.
func Decode(doc Doc, v interface{}) error {
	if doc == nil {
		doc = Doc{}
	}
	raw, err := bson.Marshal(map[string]interface{}(doc))
	if err != nil {
		return err
	}

	return bson.Unmarshal(raw, v)
}

// Normalize rewrites driver specific bson values into plain Go values so a Doc
// looks the same regardless of which backend produced it.
func Normalize(m map[string]interface{}) Doc {
	out := make(Doc, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.M:
		return map[string]interface{}(Normalize(t))
	case map[string]interface{}:
		return map[string]interface{}(Normalize(t))
	case Doc:
		return map[string]interface{}(Normalize(t))
	case primitive.D:
		return map[string]interface{}(Normalize(t.Map()))
	case primitive.A:
		return normalizeSlice(t)
	case []interface{}:
		return normalizeSlice(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case int32:
		return int64(t)
	case int:
		return int64(t)
	default:
		return v
	}
}

func normalizeSlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = normalizeValue(v)
	}
	return out
}
