// Package main is the siggen entry point: a cyclic waveform transmission
// service with an HTTP control API, plus local playback and admin commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "siggen",
	Short: "Cyclic waveform transmission scheduler",
	Long: `siggen plays recorded I/Q waveform files through a transmitter, either
once, looped, or as a timer-driven burst/pause cycle.

Configuration is read from an optional YAML file and SIGGEN_* environment
variables, on top of built-in defaults.`,
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(lastConfigCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
