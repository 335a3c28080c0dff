// Command facegate runs the recognition gateway: the HTTP server, a
// one-shot abuse scan, and small operational helpers.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/visagelab/facegate/internal/secret"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Multi-tenant gateway for the face recognition engine",
	Long: `facegate fronts the face recognition engine with API key
authentication, per-plan quotas, rate limits, subscription billing state,
share tokens, and abuse scanning.`,
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a base64-encoded AES-256 key for ENCRYPTION_KEY",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secret.GenerateKeyBase64()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file")
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(genkeyCmd)
}

// loadEnvFile reads the .env file if present; a missing file is not an
// error, real deployments configure through the environment.
func loadEnvFile() {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", envFile, err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
