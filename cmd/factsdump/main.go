package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-archive-service/internal/config"
	"github.com/skypro1111/voice-archive-service/internal/cryptostore"
	"github.com/skypro1111/voice-archive-service/internal/records"
)

const defaultConfigPath = "configs/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:          "factsdump",
	Short:        "Inspect the encrypted user records of the voice service",
	SilenceUsage: true,
	Long: `factsdump opens the record store configured for the voice service,
decrypts every stored fact set with the service key and prints it.

Records that cannot be decrypted are reported instead of aborting the dump.`,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every stored record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store records.Store, cipher *cryptostore.Cipher) error {
			return dumpAll(cmd.Context(), cmd.OutOrStdout(), store, cipher)
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print the record of one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store records.Store, cipher *cryptostore.Cipher) error {
			return dumpOne(cmd.Context(), cmd.OutOrStdout(), store, cipher, args[0])
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	rootCmd.AddCommand(listCmd, showCmd)
}

// withStore opens the configured record store and key, runs fn and closes
// the store. The key must already exist; factsdump never creates one.
func withStore(ctx context.Context, fn func(records.Store, *cryptostore.Cipher) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, err := os.Stat(cfg.Crypto.KeyFile); err != nil {
		return fmt.Errorf("encryption key unavailable: %w", err)
	}
	key, err := cryptostore.LoadOrCreateKey(cfg.Crypto.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load encryption key: %w", err)
	}
	cipher, err := cryptostore.New(key)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := records.Open(ctx, records.Config{
		Driver:      cfg.Store.Driver,
		BadgerDir:   cfg.Store.BadgerDir,
		PostgresDSN: cfg.Store.PostgresDSN,
		MaxConns:    cfg.Store.MaxConns,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer store.Close()

	return fn(store, cipher)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
