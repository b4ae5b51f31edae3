package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// JSONInput defines the input parameters for the JSON executor
type JSONInput struct {
	Operation string `json:"operation"`  // parse, stringify, query, merge, validate
	Data      string `json:"data"`       // JSON string to work with
	Query     string `json:"query"`      // dot-notation query path
	MergeWith string `json:"merge_with"` // JSON string to merge with
}

// JSONExecutor works with JSON data
type JSONExecutor struct{}

func NewJSONExecutor() *JSONExecutor {
	return &JSONExecutor{}
}

func (e *JSONExecutor) Name() string {
	return "json"
}

func (e *JSONExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	var input JSONInput
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if input.Operation == "" {
		input.Operation = "parse"
	}

	switch strings.ToLower(input.Operation) {
	case "parse":
		var result any
		if err := json.Unmarshal([]byte(input.Data), &result); err != nil {
			return nil, err
		}
		return result, nil

	case "stringify":
		var parsed any
		if err := json.Unmarshal([]byte(input.Data), &parsed); err != nil {
			return nil, err
		}
		formatted, err := json.MarshalIndent(parsed, "", "  ")
		if err != nil {
			return nil, err
		}
		return string(formatted), nil

	case "query":
		if input.Query == "" {
			return nil, fmt.Errorf("query cannot be empty for query operation")
		}
		var parsed any
		if err := json.Unmarshal([]byte(input.Data), &parsed); err != nil {
			return nil, err
		}
		return queryJSON(parsed, input.Query)

	case "merge":
		if input.MergeWith == "" {
			return nil, fmt.Errorf("merge_with cannot be empty for merge operation")
		}
		var base, overlay map[string]any
		if err := json.Unmarshal([]byte(input.Data), &base); err != nil {
			return nil, fmt.Errorf("failed to parse main data: %w", err)
		}
		if err := json.Unmarshal([]byte(input.MergeWith), &overlay); err != nil {
			return nil, fmt.Errorf("failed to parse merge data: %w", err)
		}
		return mergeJSON(base, overlay), nil

	case "validate":
		var parsed any
		if err := json.Unmarshal([]byte(input.Data), &parsed); err != nil {
			return false, nil
		}
		return true, nil

	default:
		return nil, fmt.Errorf("unsupported operation: %s", input.Operation)
	}
}

// queryJSON walks a parsed JSON value using dot notation, with numeric path
// segments treated as array indices.
func queryJSON(data any, query string) (any, error) {
	if query == "" || query == "." {
		return data, nil
	}
	query = strings.TrimPrefix(query, ".")

	current := data
	for _, part := range strings.Split(query, ".") {
		if part == "" {
			continue
		}
		switch v := current.(type) {
		case map[string]any:
			value, exists := v[part]
			if !exists {
				return nil, fmt.Errorf("key %q not found", part)
			}
			current = value
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil {
				return nil, fmt.Errorf("invalid array index %q", part)
			}
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("array index %d out of bounds", idx)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot query into non-object, non-array value")
		}
	}
	return current, nil
}

// mergeJSON merges two JSON objects, recursing into nested objects
func mergeJSON(base, overlay map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for key, value := range base {
		result[key] = value
	}
	for key, value := range overlay {
		if existingMap, ok := result[key].(map[string]any); ok {
			if overlayMap, ok := value.(map[string]any); ok {
				result[key] = mergeJSON(existingMap, overlayMap)
				continue
			}
		}
		result[key] = value
	}
	return result
}
