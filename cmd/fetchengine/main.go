package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	recipeDir string
	logLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fetchengine",
		Short: "Pluggable data-fetching engine",
		Long:  "Run recipe-driven fetch jobs against HTTP and SFTP sources, list available recipes, or check engine health",
	}

	rootCmd.PersistentFlags().StringVar(&recipeDir, "recipe-dir", "recipes", "directory of recipe YAML files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
