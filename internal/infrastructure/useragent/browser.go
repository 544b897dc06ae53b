package useragent

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// Browser hands addresses to the desktop's default URL handler.
type Browser struct {
	command func(address string) *exec.Cmd
	logger  *slog.Logger
}

func NewBrowser(logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{command: openCommand, logger: logger}
}

// Navigate starts the opener and returns without waiting for it.
func (b *Browser) Navigate(_ context.Context, address string) error {
	cmd := b.command(address)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			b.logger.Warn("browser_open_failed", "address", address, "error", err)
		}
	}()
	return nil
}

func openCommand(address string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", address)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", address)
	default:
		return exec.Command("xdg-open", address)
	}
}
