package executors

import (
	"context"
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"strings"
	"time"
)

const alphanumericCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomInput defines the input parameters for the random executor
type RandomInput struct {
	Type    string   `json:"type"`    // uuid, number, float, string, choice, boolean, hex
	Min     float64  `json:"min"`     // minimum value for number generation
	Max     float64  `json:"max"`     // maximum value for number generation
	Length  int      `json:"length"`  // length for string generation
	Choices []string `json:"choices"` // choices for selection
	Count   int      `json:"count"`   // number of items to generate
	Charset string   `json:"charset"` // character set for string generation
	Seed    int64    `json:"seed"`    // seed for reproducible randomness
}

// RandomExecutor generates random values
type RandomExecutor struct{}

func NewRandomExecutor() *RandomExecutor {
	return &RandomExecutor{}
}

func (e *RandomExecutor) Name() string {
	return "random"
}

func (e *RandomExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	var input RandomInput
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if input.Type == "" {
		input.Type = "uuid"
	}

	var rng *mathrand.Rand
	if input.Seed != 0 {
		rng = mathrand.New(mathrand.NewSource(input.Seed))
	} else {
		rng = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}

	if input.Count <= 0 {
		input.Count = 1
	}

	var values []any
	for i := 0; i < input.Count; i++ {
		value, err := e.generate(rng, input)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	if input.Count == 1 {
		return values[0], nil
	}
	return values, nil
}

func (e *RandomExecutor) generate(rng *mathrand.Rand, input RandomInput) (any, error) {
	switch strings.ToLower(input.Type) {
	case "uuid", "guid":
		return generateUUID()

	case "number", "int", "integer":
		min, max := input.Min, input.Max
		if max <= min {
			max = min + 100
		}
		return rng.Intn(int(max)-int(min)+1) + int(min), nil

	case "float", "decimal":
		min, max := input.Min, input.Max
		if max <= min {
			max = min + 1.0
		}
		return min + rng.Float64()*(max-min), nil

	case "string", "text":
		length := input.Length
		if length <= 0 {
			length = 10
		}
		charset := input.Charset
		if charset == "" {
			charset = alphanumericCharset
		}
		return randomString(rng, length, charset), nil

	case "choice", "select":
		if len(input.Choices) == 0 {
			return nil, fmt.Errorf("choices cannot be empty for choice type")
		}
		return input.Choices[rng.Intn(len(input.Choices))], nil

	case "boolean", "bool":
		return rng.Intn(2) == 1, nil

	case "hex":
		length := input.Length
		if length <= 0 {
			length = 8
		}
		return randomString(rng, length, "0123456789abcdef"), nil

	default:
		return nil, fmt.Errorf("unsupported type: %s", input.Type)
	}
}

// generateUUID generates a random UUID v4
func generateUUID() (string, error) {
	uuid := make([]byte, 16)
	if _, err := rand.Read(uuid); err != nil {
		return "", err
	}
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", uuid[0:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:]), nil
}

func randomString(rng *mathrand.Rand, length int, charset string) string {
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[rng.Intn(len(charset))]
	}
	return string(result)
}
