package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harunnryd/karakuri/cmd/karakuri/runtime"
	"github.com/harunnryd/karakuri/internal/logger"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Run the engine interactively in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveDataDir()
		if err != nil {
			return err
		}

		renderer := runtime.NewEventRenderer(os.Stdout)
		c, err := runtime.Build(root, os.Stdin, renderer, cmd.Flags())
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		defer c.Stop()

		logger.Setup(c.Config.LogLevel())
		c.Start()

		return runtime.NewREPL(c).Start()
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
}
