package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/grovekit/grove/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "Markdown knowledge graph engine",
	Long: `Grove indexes a directory of markdown outline files into a local
SQLite database and keeps the index in step with the files.

The files are ground truth. The database under .grove/ is a derived
index that can always be rebuilt with "grove sync".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("grove %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
	},
}

func init() {
	rootCmd.PersistentFlags().String("root", ".", "graph root directory")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(showCmd)
}

// initConfig loads .grove/config.yaml under the graph root, if present, and
// GROVE_ environment variables on top of it.
func initConfig() error {
	viper.SetEnvPrefix("GROVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(filepath.Join(viper.GetString("root"), storage.IndexDirName))
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// newLogger builds the process logger. Verbose runs get development output.
func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
