package script

import (
	"fmt"
	"strings"
	"time"

	"github.com/risor-io/risor/object"
)

// ConvertGoValueToRisor converts a Go value to a Risor object. Values a
// script mutates through the resulting object, such as map entries, are
// visible to the caller after evaluation.
func ConvertGoValueToRisor(value any) object.Object {
	switch v := value.(type) {
	case nil:
		return object.Nil
	case object.Object:
		return v
	case bool:
		if v {
			return object.True
		}
		return object.False
	case string:
		return object.NewString(v)
	case int:
		return object.NewInt(int64(v))
	case int32:
		return object.NewInt(int64(v))
	case int64:
		return object.NewInt(v)
	case float32:
		return object.NewFloat(float64(v))
	case float64:
		return object.NewFloat(v)
	case time.Time:
		return object.NewTime(v)
	case []any:
		items := make([]object.Object, len(v))
		for i, item := range v {
			items[i] = ConvertGoValueToRisor(item)
		}
		return object.NewList(items)
	case []string:
		items := make([]object.Object, len(v))
		for i, item := range v {
			items[i] = object.NewString(item)
		}
		return object.NewList(items)
	case map[string]any:
		entries := make(map[string]object.Object, len(v))
		for key, item := range v {
			entries[key] = ConvertGoValueToRisor(item)
		}
		return object.NewMap(entries)
	default:
		return object.NewString(fmt.Sprintf("%v", v))
	}
}

// ConvertRisorValueToGo converts a Risor object to a Go value
func ConvertRisorValueToGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.String:
		return o.Value()

	case *object.Int:
		return o.Value()

	case *object.Float:
		return o.Value()

	case *object.Bool:
		return o.Value()

	case *object.Time:
		return o.Value()

	case *object.NilType:
		return nil

	case *object.List:
		var result []interface{}
		for _, item := range o.Value() {
			result = append(result, ConvertRisorValueToGo(item))
		}
		return result

	case *object.Map:
		result := make(map[string]interface{})
		for key, value := range o.Value() {
			result[key] = ConvertRisorValueToGo(value)
		}
		return result

	case *object.Set:
		var result []interface{}
		for _, item := range o.Value() {
			result = append(result, ConvertRisorValueToGo(item))
		}
		return result

	default:
		// Fallback to string representation
		return obj.Inspect()
	}
}

// ConvertValueToBool converts any value to a boolean indicating truthiness.
// This works with both Risor objects and plain Go values.
func ConvertValueToBool(value any) bool {
	if obj, ok := value.(object.Object); ok {
		return (&RisorValue{obj: obj}).IsTruthy()
	}

	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int8:
		return v != 0
	case int16:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case uint:
		return v != 0
	case uint8:
		return v != 0
	case uint16:
		return v != 0
	case uint32:
		return v != 0
	case uint64:
		return v != 0
	case float32:
		return v != 0.0
	case float64:
		return v != 0.0
	case string:
		return v != "" && strings.ToLower(v) != "false"
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case nil:
		return false
	default:
		// For unknown types, check if they're non-nil
		return value != nil
	}
}
