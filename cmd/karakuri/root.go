package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harunnryd/karakuri/internal/store"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "karakuri",
	Short: "Karakuri desktop agent engine",
	Long:  `Karakuri is a desktop automation agent: it plans tasks with an LLM and executes them through local tool adapters over a line-JSON stdio protocol.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveDataDir picks the --data-dir flag or ~/.karakuri.
func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	return store.DefaultRoot()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default is $HOME/.karakuri)")
	rootCmd.PersistentFlags().String("log_level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("provider", "", "LLM provider (claude, openai, deepseek, grok, gemini)")
	rootCmd.PersistentFlags().String("model", "", "model name override")
	rootCmd.PersistentFlags().String("api_key", "", "provider API key")
}
