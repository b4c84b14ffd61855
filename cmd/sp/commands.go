package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zpdzap/sandpreview/internal/config"
	"github.com/zpdzap/sandpreview/internal/logger"
	"github.com/zpdzap/sandpreview/internal/preview"
	"github.com/zpdzap/sandpreview/internal/sandbox"
	"github.com/zpdzap/sandpreview/internal/web"
	"github.com/zpdzap/sandpreview/internal/workdir"
	"github.com/zpdzap/sandpreview/internal/workflow"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize sandpreview in the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := os.Getwd()
			if err != nil {
				return err
			}

			if config.Exists(projectDir) {
				fmt.Println("sandpreview already initialized in this project.")
				return nil
			}

			cfg := initialConfig(projectDir)
			if err := config.Save(projectDir, cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			if err := updateGitignore(projectDir); err != nil {
				return fmt.Errorf("updating .gitignore: %w", err)
			}

			fmt.Printf("Initialized sandpreview for %s (%s project)\n", cfg.Project, cfg.Language)
			fmt.Printf("  Config:  %s/%s\n", config.Dir, config.ConfigFile)
			fmt.Printf("  Install: %s\n", cfg.Workflow.Install)
			fmt.Printf("  Run:     %s (port %d)\n", cfg.Workflow.Run, cfg.Workflow.Ports[0])
			fmt.Println("\nRun `sp` to launch the dashboard, or `sp serve` for the web panel.")
			return nil
		},
	}
}

// initialConfig starts from the defaults and applies what Detect found.
func initialConfig(projectDir string) *config.Config {
	cfg := config.Default(filepath.Base(projectDir))
	det := config.Detect(projectDir)
	cfg.Language = det.Language
	if det.Install.Command != "" {
		cfg.Workflow.Install = det.Install
	}
	if det.Run.Command != "" {
		cfg.Workflow.Run = det.Run
	}
	if len(det.Ports) > 0 {
		cfg.Workflow.Ports = det.Ports
	}
	return cfg
}

func updateGitignore(projectDir string) error {
	gitignorePath := filepath.Join(projectDir, ".gitignore")

	entries := []string{
		config.Dir + "/" + config.WorkdirDir + "/",
		config.Dir + "/" + config.StateFile,
		config.Dir + "/" + config.LockFile,
		config.Dir + "/" + config.LogFile,
	}

	existing, _ := os.ReadFile(gitignorePath)
	content := string(existing)

	var toAdd []string
	for _, entry := range entries {
		if !strings.Contains(content, entry) {
			toAdd = append(toAdd, entry)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}

	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "\n# sandpreview\n"
	for _, entry := range toAdd {
		content += entry + "\n"
	}
	return os.WriteFile(gitignorePath, []byte(content), 0o644)
}

func runServe(cmd *cobra.Command, args []string) error {
	projectDir, cfg, err := loadProject(cmd)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, os.Stderr)
	ctx := cmd.Context()

	ctrl, err := newController(ctx, projectDir, cfg, log)
	if err != nil {
		return err
	}
	defer shutdown(ctx, ctrl, log)

	if _, err := ctrl.Start(ctx); err != nil {
		return err
	}
	return web.New(ctrl, log).Run(ctx, cfg.Server.Addr)
}

func runHeadless(cmd *cobra.Command, args []string) error {
	projectDir, cfg, err := loadProject(cmd)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, os.Stderr)
	ctx := cmd.Context()

	ctrl, err := newController(ctx, projectDir, cfg, log)
	if err != nil {
		return err
	}
	defer shutdown(ctx, ctrl, log)

	events, unsubscribe := ctrl.Bus().Subscribe()
	defer unsubscribe()

	run, err := ctrl.Start(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-run.Done():
			// Let queued output reach the terminal before reporting.
			drainEvents(log, events, out, 200*time.Millisecond)
			var failure *workflow.Failure
			if err := run.Err(); errors.As(err, &failure) {
				return failure
			}
			log.Info("Dev server exited", "status", run.Status())
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(e, out)
			logEvent(log, e)
		}
	}
}

func drainEvents(log *slog.Logger, events <-chan workflow.Event, out io.Writer, quiet time.Duration) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			printEvent(e, out)
			logEvent(log, e)
		case <-time.After(quiet):
			return
		}
	}
}

func printEvent(e workflow.Event, out io.Writer) {
	if chunk, ok := e.(workflow.OutputChunk); ok {
		_, _ = out.Write(chunk.Data)
	}
}

func logEvent(log *slog.Logger, e workflow.Event) {
	switch e := e.(type) {
	case workflow.StatusChanged:
		log.Info("Status changed", "run", e.Run, "from", e.From, "to", e.To)
	case workflow.ServerReady:
		log.Info("Preview ready", "url", e.URL, "port", e.Port)
	case workflow.Failed:
		log.Error("Preview failed", "kind", e.Kind, "message", e.Message)
	}
}

func downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Destroy a sandbox left running by a previous session",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, cfg, err := loadProject(cmd)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Log.Level, os.Stderr)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			ctrl, err := preview.New(ctx, projectDir, cfg, preview.WithLogger(log))
			if err != nil {
				return err
			}
			// A failed reconcile means another process may own the sandbox.
			rec, err := ctrl.Session().Reconcile(ctx)
			if err != nil {
				return err
			}
			if rec != nil {
				fmt.Printf("Destroyed %s\n", rec.Name)
			}
			if oc, ok := ctrl.Session().Engine().(sandbox.OrphanCleaner); ok {
				if err := oc.CleanupOrphans(ctx, cfg.Project, ""); err != nil {
					return err
				}
			}
			if err := sweepWorkdirs(projectDir, log); err != nil {
				return err
			}
			fmt.Println("No sandbox left running.")
			return nil
		},
	}
}

// sweepWorkdirs removes workdirs whose sandbox record was lost.
func sweepWorkdirs(projectDir string, log *slog.Logger) error {
	names, err := workdir.List(projectDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := workdir.Remove(projectDir, name); err != nil {
			return err
		}
		log.Info("Removed leftover workdir", "name", name)
	}
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sandbox recorded for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := os.Getwd()
			if err != nil {
				return err
			}
			state, err := sandbox.LoadState(projectDir)
			if err != nil {
				return err
			}
			rec := state.Instance
			if rec == nil {
				fmt.Println("No sandbox running.")
				return nil
			}

			fmt.Printf("%s (%s)\n", rec.Name, rec.Engine)
			fmt.Printf("  ID:      %s\n", rec.ID)
			fmt.Printf("  Booted:  %s\n", humanize.Time(rec.BootedAt))
			fmt.Printf("  Workdir: %s\n", rec.Workdir)

			ports := make([]int, 0, len(rec.Ports))
			for p := range rec.Ports {
				ports = append(ports, p)
			}
			sort.Ints(ports)
			for _, p := range ports {
				fmt.Printf("  Port:    %d → %d\n", p, rec.Ports[p])
			}
			return nil
		},
	}
}
