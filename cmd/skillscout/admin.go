package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/skillscout/internal/cache"
	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/internal/storage"
)

func clientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage API clients",
	}

	var (
		name        string
		permissions []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API client and print its key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return errors.New("client name is required (use --name)")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogging(os.Stderr, cfg.LogLevel)

			store, err := storage.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN, 1, 1)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			key, err := newAPIKey()
			if err != nil {
				return err
			}

			client := &models.ApiClient{
				Name:        name,
				ApiKey:      key,
				IsActive:    true,
				Permissions: permissions,
				CreatedAt:   time.Now().UTC(),
			}
			if err := store.CreateClient(cmd.Context(), client); err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "client %q created (id %d)\napi key: %s\n", client.Name, client.ID, key)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "client name")
	create.Flags().StringSliceVar(&permissions, "permissions", []string{"*"}, "granted permissions, e.g. repositories:read")

	cmd.AddCommand(create)
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the analysis metadata cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every cached rule and hotspot description",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogging(os.Stderr, cfg.LogLevel)

			if cfg.Redis.Address == "" {
				return errors.New("redis is not configured, nothing to purge")
			}

			client, err := cache.NewRedisClient(cmd.Context(), cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			deleted, err := cache.NewRedisStore(client, metadataPrefix, cfg.Redis.CacheTTL).Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d key(s)\n", deleted)
			return nil
		},
	})
	return cmd
}

// newAPIKey returns "sk_" followed by 48 random hex characters
func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return "sk_" + hex.EncodeToString(buf), nil
}
