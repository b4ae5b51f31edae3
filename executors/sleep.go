package executors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SleepExecutor waits for a configurable duration
type SleepExecutor struct{}

func NewSleepExecutor() *SleepExecutor {
	return &SleepExecutor{}
}

func (e *SleepExecutor) Name() string {
	return "sleep"
}

func (e *SleepExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	durationParam, ok := params["duration"]
	if !ok {
		return nil, errors.New("missing 'duration' parameter")
	}

	var duration time.Duration
	var err error
	switch v := durationParam.(type) {
	case string:
		duration, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid duration format: %w", err)
		}
	case time.Duration:
		duration = v
	case float64:
		// Seconds as a float
		duration = time.Duration(v * float64(time.Second))
	case int:
		duration = time.Duration(v) * time.Second
	default:
		return nil, fmt.Errorf("duration must be a string, time.Duration, or number of seconds")
	}

	if duration <= 0 {
		return nil, errors.New("duration must be positive")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(duration):
		return fmt.Sprintf("slept for %s", duration), nil
	}
}
