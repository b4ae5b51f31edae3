package executors

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/chronograph/retry"
)

// FailInput defines the input parameters for the fail executor
type FailInput struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// FailExecutor always fails. Useful for testing retry policies and
// failure handling in workflows.
type FailExecutor struct{}

func NewFailExecutor() *FailExecutor {
	return &FailExecutor{}
}

func (e *FailExecutor) Name() string {
	return "fail"
}

func (e *FailExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	var input FailInput
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	message := input.Message
	if message == "" {
		message = "intentional failure"
	}
	if input.Recoverable {
		return nil, retry.NewRecoverableError(fmt.Errorf("%s", message))
	}
	return nil, retry.NewNonRecoverableError(fmt.Errorf("%s", message))
}
