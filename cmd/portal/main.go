package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lms-portal/core"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Course portal with role-based routing",
	Long: `portal serves the course portal web UI and its mobile JSON surface in front
of the course backend. The devapi command runs an in-memory backend for local
development.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with KEY=VALUE settings loaded before reading the environment")
	rootCmd.AddCommand(serveCmd, devapiCmd, routesCmd)
}

// loadConfig applies the env file, then reads the environment.
func loadConfig() (core.Config, error) {
	if err := core.LoadEnvFile(envFile); err != nil {
		return core.Config{}, fmt.Errorf("load env file: %w", err)
	}
	return core.Load(), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
