package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// A .env file is optional; real environment variables take precedence over it.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "Chat backend relaying conversations to a language model",
		Long: `chatrelay stores chats in a document database and answers new messages with a
language model, after screening them with a moderation endpoint.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(),
		"Path to the YAML configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}

	var (
		userID string
		ttl    string
	)
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local development",
		Long: `Signs a token for the given user with the configured HMAC secret, so the API can be
used without an external identity provider.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(cmd.OutOrStdout(), cfgPath, userID, ttl)
		},
	}
	tokenCmd.Flags().StringVarP(&userID, "user", "u", "", "User ID to issue the token to")
	tokenCmd.Flags().StringVar(&ttl, "ttl", "24h", "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)

	return rootCmd
}

func defaultConfigPath() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cfgDir, "chatrelay", "config.yaml")
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return nil
}
