package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "authrelay",
		Short: "Auth state propagation for server-rendered Go applications",
		Long: `Authrelay resolves session cookies against an identity service and
keeps every browsing context's view of "who is signed in" converged.

  • Per-request session resolution with a TTL token cache
  • Credential-injecting proxy for auth verbs
  • Cross-context sync relay over websocket
  • Prometheus metrics and OpenTelemetry tracing`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		checkCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
