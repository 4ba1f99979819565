package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the graph root and keep the index in sync",
	Long: `Open the graph, then watch for markdown file changes and index them
as they settle. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		root := viper.GetString("root")
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		g, err := openGraph(ctx, root, logger)
		if err != nil {
			return err
		}
		defer func() { _ = g.Close() }()

		if err := g.Watch(ctx); err != nil {
			return err
		}
		fmt.Printf("Watching %s (Ctrl-C to stop)\n", root)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			fmt.Printf("Received %v, shutting down\n", sig)
			cancel()
		case <-ctx.Done():
		}
		return nil
	},
}
