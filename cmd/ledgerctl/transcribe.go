package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "transcribe AUDIO_FILE",
		Short: "Transcribe a recording without recording it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open audio: %w", err)
			}
			defer f.Close()

			tr, err := newClient().Transcribe(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tr)
		},
	})

	var personID string
	ingestCmd := &cobra.Command{
		Use:   "ingest AUDIO_FILE",
		Short: "Transcribe a recording and add it to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open audio: %w", err)
			}
			defer f.Close()

			res, err := newClient().Ingest(cmd.Context(), personID, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	ingestCmd.Flags().StringVarP(&personID, "person", "p", "", "Person ID to append to (default: match by spoken name)")
	rootCmd.AddCommand(ingestCmd)
}
