package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tidbyt.dev/fleetrt/config"
)

var rootCmd = &cobra.Command{
	Use:          "fleetrt",
	Short:        "Traccar to GTFS-Realtime bridge",
	Long:         "Publishes GTFS-Realtime feeds built from Traccar telemetry and a static GTFS schedule",
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(stopsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Loads config and sets up the global logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	return cfg, nil
}

// Parses an optional RFC 3339 time argument, defaulting to now.
func parseWhen(args []string, i int) (time.Time, error) {
	if len(args) <= i {
		return time.Now(), nil
	}
	when, err := time.Parse(time.RFC3339, args[i])
	if err != nil {
		return time.Time{}, fmt.Errorf("'%s' is not an RFC 3339 time", args[i])
	}
	return when, nil
}
