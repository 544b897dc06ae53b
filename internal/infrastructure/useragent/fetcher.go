package useragent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Fetcher downloads addresses into a directory in the background. Navigate
// only schedules the transfer; Wait blocks until scheduled transfers finish.
type Fetcher struct {
	dir        string
	httpClient *http.Client
	logger     *slog.Logger

	wg sync.WaitGroup
}

func NewFetcher(dir string, httpClient *http.Client, logger *slog.Logger) (*Fetcher, error) {
	if dir == "" {
		dir = "./downloads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{dir: dir, httpClient: httpClient, logger: logger}, nil
}

func (f *Fetcher) Navigate(ctx context.Context, address string) error {
	if _, err := url.ParseRequestURI(address); err != nil {
		return fmt.Errorf("parse download address: %w", err)
	}
	// The transfer outlives the triggering call.
	fetchCtx := context.WithoutCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		target, err := f.fetch(fetchCtx, address)
		if err != nil {
			f.logger.Warn("download_failed", "address", address, "error", err)
			return
		}
		f.logger.Info("download_saved", "address", address, "path", target)
	}()
	return nil
}

func (f *Fetcher) Wait() {
	f.wg.Wait()
}

func (f *Fetcher) fetch(ctx context.Context, address string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("download status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	target := filepath.Join(f.dir, resultFilename(resp.Header.Get("Content-Disposition"), address))
	tmp, err := os.CreateTemp(f.dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close download: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move download into place: %w", err)
	}
	return target, nil
}

// resultFilename prefers the attachment name and falls back to the last URL
// path segment.
func resultFilename(disposition, address string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := filepath.Base(params["filename"]); usableName(name) {
				return name
			}
		}
	}
	if u, err := url.Parse(address); err == nil {
		if name := path.Base(u.Path); usableName(name) {
			return name
		}
	}
	return "result.bin"
}

// usableName rejects base names that still point at a directory.
func usableName(name string) bool {
	switch name {
	case "", ".", "..", "/", `\`:
		return false
	}
	return true
}
