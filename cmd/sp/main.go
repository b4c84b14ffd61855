package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zpdzap/sandpreview/internal/config"
	"github.com/zpdzap/sandpreview/internal/logger"
	"github.com/zpdzap/sandpreview/internal/preview"
	"github.com/zpdzap/sandpreview/internal/tui"
)

func main() {
	root := &cobra.Command{
		Use:          "sp",
		Short:        "sandpreview: run your dev server in a sandbox and watch the preview",
		SilenceUsage: true,
		RunE:         runTUI,
	}

	flags := root.PersistentFlags()
	flags.String("engine", "", "sandbox engine: auto, docker, podman or local")
	flags.String("image", "", "container image the sandbox boots")
	flags.String("source", "", "directory or tree file (.json/.yaml) to mount")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(initCmd(), serveCmd(), runCmd(), downCmd(), statusCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// loadProject reads the config for the current directory, layering flags
// from cmd on top.
func loadProject(cmd *cobra.Command) (string, *config.Config, error) {
	projectDir, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}
	if !config.Exists(projectDir) {
		return "", nil, errors.New(preview.InstallHint(projectDir))
	}
	cfg, err := config.Load(projectDir, cmd.Flags())
	if err != nil {
		return "", nil, err
	}
	return projectDir, cfg, nil
}

// newController builds the controller and clears out a sandbox a previous
// process left behind.
func newController(ctx context.Context, projectDir string, cfg *config.Config, log *slog.Logger) (*preview.Controller, error) {
	ctrl, err := preview.New(ctx, projectDir, cfg, preview.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if rec, err := ctrl.Session().Reconcile(ctx); err != nil {
		log.Warn("State reconciliation failed", "error", err)
	} else if rec != nil {
		log.Info("Removed stale sandbox", "name", rec.Name)
	}
	return ctrl, nil
}

func shutdown(ctx context.Context, ctrl *preview.Controller, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		log.Error("Shutdown failed", "error", err)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	projectDir, cfg, err := loadProject(cmd)
	if err != nil {
		return err
	}

	logPath := cfg.Log.File
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(projectDir, logPath)
	}
	f, err := logger.OpenFile(logPath)
	if err != nil {
		return err
	}
	defer f.Close()
	log := logger.Setup(cfg.Log.Level, f)

	ctrl, err := newController(cmd.Context(), projectDir, cfg, log)
	if err != nil {
		return err
	}
	return tui.Run(cmd.Context(), ctrl)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the preview panel over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default "+config.DefaultServerAddr+")")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the preview headless, streaming output to stdout",
		RunE:  runHeadless,
	}
}
