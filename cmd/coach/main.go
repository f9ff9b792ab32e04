// Package main implements the coach CLI for talking to a coachd server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coachd/internal/client"
)

var (
	// serverURL is the base URL for the coachd HTTP server
	serverURL string
	// outputJSON prints raw API responses
	outputJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Strategy coaching from the command line",
	Long: `coach talks to a coachd server. A coaching session walks through three
phases: WHY (your purpose), HOW (what sets you apart) and WHAT (the
strategy map that follows).`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "coachd server URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(healthCmd)
}

func defaultServerURL() string {
	if u := os.Getenv("COACHD_URL"); u != "" {
		return u
	}
	return "http://localhost:9191"
}

func newClient() (*client.Client, error) {
	return client.New(serverURL)
}

// requestContext bounds a single non-interactive command.
func requestContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check coachd server health",
	Long: `Check the health status of the coachd HTTP server.

Examples:
  # Check health
  coach health

  # Check health on a different server
  coach health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd, 5*time.Second)
	defer cancel()

	health, err := c.Health(ctx)
	if health == nil {
		return fmt.Errorf("failed to reach %s: %w", serverURL, err)
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		if perr := printJSON(out, health); perr != nil {
			return perr
		}
		return err
	}

	fmt.Fprintf(out, "Server Status: %s\n", health.Status)
	if health.Version != "" {
		fmt.Fprintf(out, "Version: %s\n", health.Version)
	}
	for name, status := range health.Checks {
		fmt.Fprintf(out, "  %s: %s\n", name, status)
	}
	return err
}
