// Package main provides the callprof binary: a self-profiling HTTP server,
// a demo workload and a report viewer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fllarpy/callprof/config"
)

const version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "callprof",
		Short:         "Per-thread call timing and allocation profiler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory holding callprof.yaml, or a YAML file")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newDemoCmd(load))
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type configLoader func() (config.Config, error)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("callprof version %s\n", version)
		},
	}
}
