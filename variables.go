package chronograph

import (
	"sync"
)

// Variables provides controlled access to the shared variable store that
// nodes read and write during a run. Snapshots taken for checkpoints are
// deep copies, so later mutation never bleeds into recorded history.
type Variables struct {
	values map[string]any
	mutex  sync.RWMutex
}

// NewVariables creates a variable store seeded with the given values.
func NewVariables(initial map[string]any) *Variables {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = deepCopyValue(v)
	}
	return &Variables{values: values}
}

// Set sets a value in the store
func (v *Variables) Set(key string, value any) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.values[key] = value
}

// Get retrieves a value from the store
func (v *Variables) Get(key string) (any, bool) {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	value, exists := v.values[key]
	return value, exists
}

// Delete removes a key from the store
func (v *Variables) Delete(key string) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	delete(v.values, key)
}

// Keys returns all keys in the store
func (v *Variables) Keys() []string {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	keys := make([]string, 0, len(v.values))
	for key := range v.values {
		keys = append(keys, key)
	}
	return keys
}

// Snapshot returns a deep copy of the current values.
func (v *Variables) Snapshot() map[string]any {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return deepCopyMap(v.values)
}

// Restore replaces the store contents with a deep copy of the given values.
func (v *Variables) Restore(values map[string]any) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.values = deepCopyMap(values)
}

// deepCopyMap deep copies a string-keyed map of plain values.
func deepCopyMap(m map[string]any) map[string]any {
	dup := make(map[string]any, len(m))
	for k, val := range m {
		dup[k] = deepCopyValue(val)
	}
	return dup
}

// deepCopyValue deep copies the value shapes that survive JSON round trips:
// maps, slices and scalars. Other types are copied by reference, which is
// fine because executors exchange plain data.
func deepCopyValue(value any) any {
	switch val := value.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		dup := make([]any, len(val))
		for i, item := range val {
			dup[i] = deepCopyValue(item)
		}
		return dup
	default:
		return value
	}
}
