package executors

import (
	"context"
	"fmt"
)

// PrintExecutor writes a message to stdout
type PrintExecutor struct{}

func NewPrintExecutor() *PrintExecutor {
	return &PrintExecutor{}
}

func (e *PrintExecutor) Name() string {
	return "print"
}

func (e *PrintExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	message, ok := params["message"]
	if !ok || message == nil {
		return nil, fmt.Errorf("missing 'message' parameter")
	}
	fmt.Println(message)
	return message, nil
}
