package executors

import (
	"context"
	"time"
)

// TimeExecutor returns the current time as an RFC3339 string
type TimeExecutor struct{}

func NewTimeExecutor() *TimeExecutor {
	return &TimeExecutor{}
}

func (e *TimeExecutor) Name() string {
	return "time"
}

func (e *TimeExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	now := time.Now()
	if utc, ok := params["utc"].(bool); ok && utc {
		now = now.UTC()
	}
	return now.Format(time.RFC3339), nil
}
