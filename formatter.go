package chronograph

import (
	"fmt"

	"github.com/fatih/color"
)

// RunFormatter interface for pretty output
type RunFormatter interface {
	PrintNodeStart(nodeID string, nodeType string)
	PrintNodeOutput(nodeID string, content any)
	PrintNodeError(nodeID string, err error)
}

// ConsoleFormatter writes colorized progress to stdout. Colors degrade to
// plain text automatically when stdout is not a terminal.
type ConsoleFormatter struct{}

func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{}
}

func (f *ConsoleFormatter) PrintNodeStart(nodeID string, nodeType string) {
	color.Cyan("Running %s (%s)", nodeID, nodeType)
}

func (f *ConsoleFormatter) PrintNodeOutput(nodeID string, content any) {
	color.Green("Completed %s", nodeID)
	if content != nil {
		fmt.Printf("  %v\n", content)
	}
}

func (f *ConsoleFormatter) PrintNodeError(nodeID string, err error) {
	color.Red("Failed %s: %v", nodeID, err)
}
