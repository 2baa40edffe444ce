package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/radio-control/siggen/internal/config"
)

var lastConfigCmd = &cobra.Command{
	Use:   "lastconfig",
	Short: "Inspect the saved waveform configuration",
}

var lastConfigShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the last started configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store := config.NewFileStore(cfg.Paths.LastConfig, config.LastConfig{Cycle: cfg.Cycle})
		lc, problems, err := store.Load()
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no configuration saved at %s", store.Path())
		}
		if err != nil {
			return err
		}
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "warning: %v\n", p)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(lc)
	},
}

func init() {
	lastConfigCmd.AddCommand(lastConfigShowCmd)
}
