package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/grovekit/grove/internal/graph"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rebuild the index from the markdown files",
	Long: `Scan the graph root and index every markdown file into .grove/graph.db.

Files whose content is unchanged since the last sync are skipped via
checksum comparison, so re-running sync on a healthy graph is cheap.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		root := viper.GetString("root")
		g, err := openGraph(cmd.Context(), root, logger)
		if err != nil {
			return err
		}
		defer func() { _ = g.Close() }()

		start := time.Now()
		stats, err := g.Resync(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Synced %d of %d files (%d unchanged, %d failed) in %s\n",
			stats.Synced, stats.Files, stats.Skipped, stats.Failures,
			time.Since(start).Round(time.Millisecond))
		if stats.Failures > 0 {
			os.Exit(1)
		}
		return nil
	},
}

// openGraph opens the graph at root with the configured cache and debounce
// settings.
func openGraph(ctx context.Context, root string, logger *zap.Logger) (*graph.Graph, error) {
	return graph.Open(ctx, root, graph.Options{
		PageCacheSize:  viper.GetInt("cache.pages"),
		BlockCacheSize: viper.GetInt("cache.blocks"),
		Debounce:       viper.GetDuration("sync.debounce"),
		IgnoreTTL:      viper.GetDuration("sync.ignore-ttl"),
		Logger:         logger,
	})
}
