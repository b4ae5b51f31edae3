package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/deepnoodle-ai/chronograph"
	"github.com/deepnoodle-ai/chronograph/executors"
	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// CLI configuration
type Config struct {
	WorkflowFile  string
	Variables     map[string]any
	StorageDir    string
	EventsDir     string
	ResumeRunID   string
	RewindTarget  string
	RegisterFiles []string
	Timeout       time.Duration
	Verbose       bool
	JSON          bool
	ListRuns      bool
	ShowEvents    bool
}

func main() {
	config := parseFlags()
	logger := setupLogger(config.Verbose)

	// Open storage when a directory was given
	var storage chronograph.Storage
	if config.StorageDir != "" {
		fileStorage, err := chronograph.NewFileStorage(config.StorageDir)
		if err != nil {
			log.Fatalf("Failed to open storage: %v", err)
		}
		storage = fileStorage
	}

	if config.ListRuns {
		if storage == nil {
			color.Red("Error: -list-runs requires -storage")
			os.Exit(1)
		}
		listRuns(storage)
		return
	}

	// Validate required arguments
	if config.WorkflowFile == "" {
		color.Red("Error: workflow file is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(config.WorkflowFile); os.IsNotExist(err) {
		color.Red("Error: workflow file '%s' not found", config.WorkflowFile)
		os.Exit(1)
	}

	// Load workflow from YAML file
	color.Blue("Loading workflow from: %s", config.WorkflowFile)
	wf, err := chronograph.LoadFile(config.WorkflowFile)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}

	color.Cyan("Workflow: %s", wf.Name())
	if wf.Description() != "" {
		color.White("Description: %s", wf.Description())
	}

	// Set up the event log
	var eventLog chronograph.EventLog
	if config.EventsDir != "" {
		eventLog = chronograph.NewFileEventLog(config.EventsDir)
		color.Blue("Event logs: %s", config.EventsDir)
	} else {
		eventLog = chronograph.NewNullEventLog()
	}

	executorList, err := buildExecutors(config, logger)
	if err != nil {
		log.Fatalf("Failed to set up executors: %v", err)
	}

	engine, err := chronograph.NewEngine(chronograph.EngineOptions{
		Workflow:  wf,
		Executors: executorList,
		Variables: config.Variables,
		Logger:    logger,
		Formatter: chronograph.NewConsoleFormatter(),
		Storage:   storage,
		EventLog:  eventLog,
		RunID:     config.ResumeRunID,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	// Run with timeout
	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	if config.RewindTarget != "" && config.ResumeRunID == "" {
		color.Red("Error: -rewind requires -resume")
		os.Exit(1)
	}

	if config.ResumeRunID != "" {
		if storage == nil {
			color.Red("Error: -resume requires -storage")
			os.Exit(1)
		}
		if err := engine.Load(ctx); err != nil {
			log.Fatalf("Failed to load run %s: %v", config.ResumeRunID, err)
		}
		if config.RewindTarget != "" {
			target, err := parseRewindTarget(config.RewindTarget)
			if err != nil {
				log.Fatalf("Invalid rewind target '%s': %v", config.RewindTarget, err)
			}
			if err := engine.RewindTo(ctx, target); err != nil {
				log.Fatalf("Failed to rewind run %s: %v", config.ResumeRunID, err)
			}
			color.Magenta("Rewound to %s", target)
		}
		color.Green("Resuming run %s...\n", engine.RunID())
	} else {
		color.Green("Starting run %s...\n", engine.RunID())
	}

	startTime := time.Now()
	if config.ResumeRunID != "" {
		err = engine.Resume(ctx)
	} else {
		err = engine.Run(ctx)
	}
	duration := time.Since(startTime)

	showResults(engine, err, duration, config)
}

func parseFlags() *Config {
	config := &Config{
		Variables: make(map[string]any),
	}

	flag.StringVar(&config.WorkflowFile, "file", "", "Path to the YAML workflow definition file (required)")
	flag.StringVar(&config.WorkflowFile, "f", "", "Path to the YAML workflow definition file (shorthand)")

	var variableFlags stringSlice
	flag.Var(&variableFlags, "var", "Initial variable in format key=value (can be used multiple times)")

	flag.StringVar(&config.StorageDir, "storage", "", "Directory to persist run snapshots (optional)")
	flag.StringVar(&config.StorageDir, "s", "", "Directory to persist run snapshots (shorthand)")

	flag.StringVar(&config.EventsDir, "events", "", "Directory to append per-run event logs (optional)")
	flag.StringVar(&config.EventsDir, "e", "", "Directory to append per-run event logs (shorthand)")

	flag.StringVar(&config.ResumeRunID, "resume", "", "Resume a stored run by ID (requires -storage)")
	flag.StringVar(&config.RewindTarget, "rewind", "", "Rewind a resumed run to a checkpoint before continuing: id, seq, RFC3339 time, or 'latest' (requires -resume)")

	var registerFlags stringSlice
	flag.Var(&registerFlags, "register", "Workflow file runnable via 'workflow' nodes (can be used multiple times)")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Run timeout (e.g., 30s, 5m, 1h)")
	flag.DurationVar(&config.Timeout, "t", 0, "Run timeout (shorthand)")

	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")

	flag.BoolVar(&config.JSON, "json", false, "Output results in JSON format")
	flag.BoolVar(&config.ListRuns, "list-runs", false, "List stored runs and exit (requires -storage)")
	flag.BoolVar(&config.ShowEvents, "show-events", false, "Print the run's event timeline after it finishes")

	// Custom usage
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Chronograph - Execute YAML-defined workflows

Usage: %s [options] -file <workflow.yaml>

Examples:
  # Execute a simple workflow
  %s -file example.yaml

  # Execute with variables and persistence
  %s -file workflow.yaml -var name=John -var count=5 -storage ./runs

  # Resume a stored run
  %s -storage ./runs -file workflow.yaml -resume run_01h455vb4pex5vsknk084sn02q

  # Rewind a stored run to its latest checkpoint, then continue
  %s -storage ./runs -file workflow.yaml -resume run_01h455vb4pex5vsknk084sn02q -rewind latest

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()

		fmt.Fprintf(os.Stderr, `
Supported Node Types:
  print   - Print messages to console
  script  - Execute code using Risor
  time    - Get current timestamp
  sleep   - Wait for a specified duration
  fail    - Intentionally fail with a message
  http    - Make HTTP requests
  file    - Read, write, and manage files
  json    - Parse, query, and stringify JSON
  random  - Generate random numbers, strings, and UUIDs
  shell   - Execute shell commands
  workflow - Run a workflow registered with -register as a node

Variable Format:
  Use -var key=value for each initial variable.
  Values are parsed as JSON if possible, otherwise as strings.

`)
	}

	flag.Parse()

	config.RegisterFiles = registerFlags

	// Parse variable flags
	for _, entry := range variableFlags {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: invalid variable format '%s'. Use key=value\n", entry)
			os.Exit(1)
		}

		key, value := parts[0], parts[1]

		// Try to parse as JSON, fallback to string
		var parsedValue any
		if err := json.Unmarshal([]byte(value), &parsedValue); err != nil {
			parsedValue = value
		}

		config.Variables[key] = parsedValue
	}

	return config
}

// parseRewindTarget interprets the -rewind flag value. Checkpoint IDs carry
// the "ckpt" type prefix, so numbers and timestamps never collide with them.
func parseRewindTarget(value string) (chronograph.RewindTarget, error) {
	if value == "latest" {
		return chronograph.RewindTarget{}, nil
	}
	if seq, err := strconv.ParseInt(value, 10, 64); err == nil {
		return chronograph.RewindTarget{Seq: seq}, nil
	}
	if at, err := time.Parse(time.RFC3339, value); err == nil {
		return chronograph.RewindTarget{At: at}, nil
	}
	if strings.HasPrefix(value, "ckpt") {
		return chronograph.RewindTarget{CheckpointID: value}, nil
	}
	return chronograph.RewindTarget{}, fmt.Errorf("expected a checkpoint id, sequence number, RFC3339 timestamp, or 'latest'")
}

// Custom flag type for handling repeated values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// buildExecutors returns the built-in executors, plus a subworkflow executor
// when workflow files were registered with -register.
func buildExecutors(config *Config, logger *slog.Logger) ([]chronograph.Executor, error) {
	executorList := executors.DefaultExecutors()

	if len(config.RegisterFiles) == 0 {
		return executorList, nil
	}

	registry := chronograph.NewMemoryWorkflowRegistry()
	for _, file := range config.RegisterFiles {
		child, err := chronograph.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", file, err)
		}
		if err := registry.Register(child); err != nil {
			return nil, fmt.Errorf("failed to register workflow %s: %w", file, err)
		}
	}

	subExecutor, err := chronograph.NewSubworkflowExecutor(chronograph.SubworkflowExecutorOptions{
		Registry:  registry,
		Executors: executorList,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	executorList = append(executorList, subExecutor)
	color.Magenta("Subworkflow support enabled: %s", strings.Join(registry.List(), ", "))
	return executorList, nil
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	}))
}

func listRuns(storage chronograph.Storage) {
	summaries, err := storage.ListRuns(context.Background())
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}
	if len(summaries) == 0 {
		color.Blue("No stored runs")
		return
	}

	color.Blue("Stored runs:")
	for _, summary := range summaries {
		fmt.Printf("  %s  %-10s  %-20s  %d events  %s\n",
			summary.RunID,
			summary.Status,
			summary.WorkflowName,
			summary.EventCount,
			summary.UpdatedAt.Format(time.RFC3339))
	}
}

func showResults(engine *chronograph.Engine, err error, duration time.Duration, config *Config) {
	stats := engine.Stats()

	color.White("Run finished in %v", duration)
	color.White("Status: %s", stats.Status)

	if err != nil {
		color.Red("Error: %v", err)
	} else {
		color.Green("Run successful!")
	}

	if config.JSON {
		results := map[string]any{
			"run":   engine.RunState(),
			"stats": stats,
		}
		if config.ShowEvents {
			results["events"] = engine.Events()
		}
		output, marshalErr := json.MarshalIndent(results, "", "  ")
		if marshalErr != nil {
			fmt.Printf("Error formatting results: %v\n", marshalErr)
		} else {
			fmt.Println(string(output))
		}
	} else {
		variables := engine.Variables().Snapshot()
		if len(variables) > 0 {
			fmt.Printf("\n")
			color.Magenta("Variables:")
			for key, value := range variables {
				if valueBytes, jsonErr := json.Marshal(value); jsonErr == nil {
					fmt.Printf("  %s: %s\n", key, string(valueBytes))
				} else {
					fmt.Printf("  %s: %v\n", key, value)
				}
			}
		}
		fmt.Printf("\n")
		color.Magenta("Timeline: %d events, %d checkpoints", stats.EventCount, stats.CheckpointCount)
		if config.ShowEvents {
			for _, event := range engine.Events() {
				line := fmt.Sprintf("  %3d  %-20s", event.Seq, event.Type)
				if event.NodeID != "" {
					line += "  " + event.NodeID
				}
				fmt.Println(line)
			}
		}
	}

	if err != nil && stats.Status != chronograph.WorkflowStatusCompleted {
		os.Exit(1)
	}
}
