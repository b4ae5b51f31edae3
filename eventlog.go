package chronograph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EventLog is an append-only record of timeline events kept outside the
// engine's snapshot storage.
type EventLog interface {
	// LogEvent appends one recorded event to the log for a run.
	LogEvent(ctx context.Context, runID string, event *Event) error

	// GetEventHistory retrieves the logged events for a run.
	GetEventHistory(ctx context.Context, runID string) ([]*Event, error)
}

// FileEventLog is an implementation of EventLog that logs to a file. A file
// is created per run. The file is formatted as newline-delimited JSON.
type FileEventLog struct {
	directory string
}

func NewFileEventLog(directory string) *FileEventLog {
	return &FileEventLog{directory: directory}
}

func (l *FileEventLog) runEventLogPath(runID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", runID))
}

func (l *FileEventLog) GetEventHistory(ctx context.Context, runID string) ([]*Event, error) {
	data, err := os.ReadFile(l.runEventLogPath(runID))
	if err != nil {
		return nil, err
	}
	var events []*Event
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, nil
}

func (l *FileEventLog) LogEvent(ctx context.Context, runID string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	filePath := l.runEventLogPath(runID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// NullEventLog is a no-op implementation of EventLog.
type NullEventLog struct{}

func NewNullEventLog() *NullEventLog {
	return &NullEventLog{}
}

func (l *NullEventLog) LogEvent(ctx context.Context, runID string, event *Event) error {
	return nil
}

func (l *NullEventLog) GetEventHistory(ctx context.Context, runID string) ([]*Event, error) {
	return nil, nil
}
