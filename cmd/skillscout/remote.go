package main

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/pkg/client"
)

func remoteCmd() *cobra.Command {
	var (
		serverURL string
		apiKey    string
	)

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a running skillscout server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SKILLSCOUT_URL", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SKILLSCOUT_API_KEY"), "API key")

	newClient := func() (*client.Client, error) {
		if apiKey == "" {
			return nil, errors.New("api key is required (use --api-key or SKILLSCOUT_API_KEY)")
		}
		return client.NewClient(serverURL, apiKey), nil
	}

	var name string
	link := &cobra.Command{
		Use:   "link <candidate-id> <repository-url>",
		Short: "Link a repository to a candidate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			repo, err := c.LinkRepository(cmd.Context(), args[0], models.LinkRequest{Name: name, URL: args[1]})
			if err != nil {
				return err
			}
			return printJSON(cmd, repo)
		},
	}
	link.Flags().StringVar(&name, "name", "", "display name, defaults to the repository basename")

	var (
		wait     bool
		interval time.Duration
	)
	analyze := &cobra.Command{
		Use:   "analyze <repository-id>",
		Short: "Start an analysis run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			repo, err := c.StartAnalysis(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if wait {
				if repo, err = c.WaitForAnalysis(cmd.Context(), args[0], interval); err != nil {
					return err
				}
			}
			return printJSON(cmd, repo)
		},
	}
	analyze.Flags().BoolVar(&wait, "wait", false, "wait until the run finishes")
	analyze.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval with --wait")

	status := &cobra.Command{
		Use:   "status <repository-id>",
		Short: "Show a repository and its analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			repo, err := c.GetRepository(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, repo)
		},
	}

	score := &cobra.Command{
		Use:   "score <candidate-id>",
		Short: "Show a candidate's score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			s, err := c.Score(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}

	cmd.AddCommand(link, analyze, status, score)
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
