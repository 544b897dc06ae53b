package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
	"github.com/kirillkom/atlas-slicer/internal/core/ports"
)

// DownloadTrigger resolves a result locator against the service base address
// and hands the address to a user agent.
type DownloadTrigger struct {
	baseURL string
	agent   ports.UserAgent
}

func NewDownloadTrigger(baseURL string, agent ports.UserAgent) *DownloadTrigger {
	return &DownloadTrigger{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		agent:   agent,
	}
}

func (t *DownloadTrigger) Address(locator domain.ResultLocator) string {
	return ComposeDownloadURL(t.baseURL, locator)
}

func (t *DownloadTrigger) Trigger(ctx context.Context, locator domain.ResultLocator) (string, error) {
	if strings.TrimSpace(string(locator)) == "" {
		return "", domain.WrapError(domain.ErrInvalidState, "trigger download", errors.New("empty result locator"))
	}
	address := t.Address(locator)
	if err := t.agent.Navigate(ctx, address); err != nil {
		return address, fmt.Errorf("navigate to %s: %w", address, err)
	}
	return address, nil
}

// ComposeDownloadURL joins base and locator with exactly one slash.
// Locators that already carry a scheme are returned unchanged.
func ComposeDownloadURL(baseURL string, locator domain.ResultLocator) string {
	loc := strings.TrimSpace(string(locator))
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return loc
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	loc = strings.TrimLeft(loc, "/")
	if loc == "" {
		return base
	}
	return base + "/" + loc
}
