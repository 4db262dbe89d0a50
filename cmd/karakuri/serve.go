package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harunnryd/karakuri/cmd/karakuri/runtime"
	"github.com/harunnryd/karakuri/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine as a stdio service",
	Long:  `Serve reads line-JSON commands on stdin and emits line-JSON events on stdout. Logs go to stderr so the wire stays clean.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveDataDir()
		if err != nil {
			return err
		}

		c, err := runtime.Build(root, os.Stdin, os.Stdout, cmd.Flags())
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		defer c.Stop()

		logger.Setup(c.Config.LogLevel())
		c.Start()

		return c.Loop.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
