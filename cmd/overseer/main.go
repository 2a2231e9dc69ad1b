// Package main provides the overseer binary entry point. Overseer is
// an autonomous orchestration daemon that drives long-running AI coding
// agent sessions across a fleet of registered projects.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/c360studio/overseer/commands"
	"github.com/c360studio/overseer/config"
)

const (
	Version = "0.1.0"
	appName = "overseer"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		socketPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:     appName,
		Short:   "Autonomous agent orchestration daemon",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(logLevel)
			if socketPath == "" {
				socketPath = filepath.Join(config.DefaultStateDir(), "overseer.sock")
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon control socket path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(daemonCmd(&configPath))
	root.AddCommand(commands.StatusCmd(&socketPath))
	root.AddCommand(commands.RunCmd(&socketPath))
	root.AddCommand(commands.ProjectsCmd(&socketPath))
	root.AddCommand(commands.QueueCmd(&socketPath))
	root.AddCommand(commands.SessionsCmd(&socketPath))
	root.AddCommand(commands.StopCmd(&socketPath))

	return root
}

func daemonCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the orchestration daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	// Without an explicit path, try the conventional location and fall
	// back to defaults.
	conventional := filepath.Join(config.DefaultStateDir(), "config.json")
	if _, err := os.Stat(conventional); err == nil {
		return config.Load(conventional)
	}
	cfg := config.DefaultConfig()
	cfg.StateDir = config.DefaultStateDir()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configureLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
