package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/workspace"
)

func analyzeCmd() *cobra.Command {
	var (
		keep    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze <repository-url>",
		Short: "Analyze one repository and print the analysis payload",
		Long: `The analyze command clones the repository, reviews it and runs static analysis
without touching the database. The payload is printed as JSON on stdout. On failure
the error response is printed instead and the command exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogging(os.Stderr, cfg.LogLevel)

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			deps, err := buildComponents(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer deps.Close()

			key := uuid.NewString()
			if !keep {
				defer workspace.Remove(filepath.Join(cfg.Workspace.Root, key))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			result, err := deps.analyzer.Analyze(ctx, args[0], key)
			if err != nil {
				if encErr := enc.Encode(faults.Response(err, time.Now())); encErr != nil {
					return encErr
				}
				return fmt.Errorf("analysis failed: %w", err)
			}
			return enc.Encode(result.Payload())
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "keep the checkout after the analysis")
	cmd.Flags().DurationVar(&timeout, "timeout", analysisTimeout, "overall analysis timeout")
	return cmd
}
