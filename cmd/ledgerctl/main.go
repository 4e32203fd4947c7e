package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/tallyledger/internal/client"
)

var (
	apiFlag     string
	tokenFlag   string
	timeoutFlag time.Duration
	rootCmd     = &cobra.Command{
		Use:          "ledgerctl",
		Short:        "CLI client for the ledger REST API",
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Ledger service base URL")
	rootCmd.PersistentFlags().StringVarP(&tokenFlag, "token", "t", os.Getenv("LEDGER_TOKEN"), "Bearer token (default $LEDGER_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", time.Minute, "Request timeout")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(apiFlag, tokenFlag, timeoutFlag)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
