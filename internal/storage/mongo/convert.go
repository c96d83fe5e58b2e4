package mongo

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FormatID formats a MongoDB _id value as a string.
func FormatID(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case bson.M:
		// Compound keys (sharded collections) get a deterministic digest
		data, _ := bson.Marshal(v)
		hash := blake3.Sum256(data)
		return hex.EncodeToString(hash[:16])
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseID converts a string id back to the form stored in _id: an ObjectID
// when the string is a valid hex ObjectID, the string itself otherwise.
func ParseID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// ConvertDocument converts a bson.M into plain Go values that encode cleanly
// to JSON: ObjectIDs become hex strings and DateTimes become time.Time.
func ConvertDocument(m bson.M) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = convertValue(v)
	}
	return result
}

func convertValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		return ConvertDocument(val)
	case bson.D:
		return ConvertDocument(val.Map())
	case bson.A:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = convertValue(item)
		}
		return result
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return map[string]uint32{"T": val.T, "I": val.I}
	default:
		return v
	}
}
