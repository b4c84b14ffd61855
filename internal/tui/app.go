package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zpdzap/sandpreview/internal/preview"
)

// Run drives the dashboard until the user quits, then tears the sandbox
// down.
func Run(ctx context.Context, ctrl *preview.Controller) error {
	events, unsubscribe := ctrl.Bus().Subscribe()
	defer unsubscribe()

	p := tea.NewProgram(newModel(ctrl, events), tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()

	fmt.Println("Stopping sandbox...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	fmt.Println("Goodbye!")
	return nil
}
