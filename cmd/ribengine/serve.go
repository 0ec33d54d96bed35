package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/nodeplane/ribengine/config"
	"github.com/nodeplane/ribengine/daemon"
	"github.com/nodeplane/ribengine/decision"
)

var verbose bool

// serveCmd runs the daemon on the current host until SIGINT/SIGTERM.
var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the routing decision core",
	GroupID: "ribengine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(configPath, verbose)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

func runServe(path string, verbose bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	log := buildLogger(cfg, verbose)

	d, err := daemon.New(cfg, log, nil, nil)
	if err != nil {
		return err
	}
	d.OnRouteUpdate(func(delta decision.RouteDbDelta) {
		log.Info("rib updated",
			"unicast_updated", len(delta.UnicastRoutesToUpdate),
			"unicast_deleted", len(delta.UnicastRoutesToDelete),
			"mpls_updated", len(delta.MplsRoutesToUpdate),
			"mpls_deleted", len(delta.MplsRoutesToDelete))
	})

	if err := d.Run(); err != nil {
		return err
	}
	log.Info("ribengine started, send SIGINT or SIGTERM to exit")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c
	d.Stop(errors.New("received shutdown signal"))
	return nil
}

// buildLogger fans out to a tinted stderr handler and, if configured, a
// plain text log file.
func buildLogger(cfg *config.NodeConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose || cfg.Verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: cfg.Id,
		}),
	}

	if cfg.LogPath != "" {
		if err := os.MkdirAll(path.Dir(cfg.LogPath), 0o700); err == nil {
			if f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o700); err == nil {
				handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
			}
		}
	}

	return slog.New(slogmulti.Fanout(handlers...))
}
