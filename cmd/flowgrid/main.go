// Package main provides the flowgrid command line interface for running and
// validating flows without the API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/flowgrid/flowgrid/pkg/cmd"
	"github.com/flowgrid/flowgrid/pkg/flow"
	"github.com/flowgrid/flowgrid/pkg/log"
	"github.com/flowgrid/flowgrid/pkg/models"
)

func main() {
	logger := log.WithModule("cli")

	command := &cli.Command{
		Name:                  "flowgrid",
		Usage:                 "Run and validate AI prompt flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (file://, postgres://, redis://)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Aliases:   []string{"r"},
				Usage:     "Execute a stored flow and print the execution record",
				ArgsUsage: "<flow-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "input",
						Aliases: []string{"i"},
						Usage:   "Input variables as a JSON object",
						Value:   "{}",
					},
					&cli.StringFlag{
						Name:  "user-id",
						Usage: "Stable seed for variant assignment",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Validate and plan without calling any provider",
					},
					&cli.BoolFlag{
						Name:  "fail-fast",
						Usage: "Stop scheduling new nodes after the first failure",
					},
					&cli.IntFlag{
						Name:  "retry-attempts",
						Usage: "Per-node retry budget for retryable provider errors",
					},
					&cli.IntFlag{
						Name:  "max-concurrent-nodes",
						Usage: "Upper bound on nodes executing in parallel within a wave",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Overall execution timeout",
						Value: 5 * time.Minute,
					},
				},
				Action: runFlow,
			},
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Validate a stored flow or a flow definition file",
				ArgsUsage: "<flow-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Validate a flow definition JSON file instead of a stored flow",
					},
				},
				Action: validateFlow,
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("flowgrid exited with error", "error", err)
		os.Exit(1)
	}
}

func newRunner(ctx context.Context, command *cli.Command) (*flow.Runner, func(), error) {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cli")

	gateway := cmd.NewProviderGateway(logger)
	registry := cmd.NewRegistry(logger, gateway)

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := persistence.Close(ctx); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}

	engine := flow.NewEngine(logger, registry, persistence.ExecutionRepository())
	runner := flow.NewRunner(logger, persistence.FlowRepository(), engine)

	return runner, cleanup, nil
}

func runFlow(ctx context.Context, command *cli.Command) error {
	flowID := command.Args().First()
	if flowID == "" {
		return fmt.Errorf("flow ID is required")
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(command.String("input")), &input); err != nil {
		return fmt.Errorf("invalid --input JSON: %w", err)
	}

	runner, cleanup, err := newRunner(ctx, command)
	if err != nil {
		return err
	}
	defer cleanup()

	execution, err := runner.ExecuteFlow(ctx, flowID, input, flow.Options{
		UserID:             command.String("user-id"),
		DryRun:             command.Bool("dry-run"),
		FailFast:           command.Bool("fail-fast"),
		RetryAttempts:      command.Int("retry-attempts"),
		MaxConcurrentNodes: command.Int("max-concurrent-nodes"),
		Timeout:            command.Duration("timeout"),
	})
	if err != nil {
		return err
	}

	return printJSON(execution)
}

func validateFlow(ctx context.Context, command *cli.Command) error {
	var result *flow.ValidationResult

	if path := command.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read flow file: %w", err)
		}

		var parsed models.Flow
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("invalid flow definition: %w", err)
		}

		result = flow.Validate(&parsed)
	} else {
		flowID := command.Args().First()
		if flowID == "" {
			return fmt.Errorf("flow ID or --file is required")
		}

		runner, cleanup, err := newRunner(ctx, command)
		if err != nil {
			return err
		}
		defer cleanup()

		result, err = runner.ValidateFlow(ctx, flowID)
		if err != nil {
			return err
		}
	}

	if err := printJSON(result); err != nil {
		return err
	}

	if !result.Valid() {
		return fmt.Errorf("flow is invalid")
	}

	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
