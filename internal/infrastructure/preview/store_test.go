package preview

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

func TestCreateAndRelease(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p, err := store.Create(context.Background(), domain.CandidateFile{Name: "my sheet.png", MediaType: "image/png", Data: []byte("png")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasSuffix(p.Key, "_my_sheet.png") {
		t.Fatalf("unexpected key %q", p.Key)
	}
	if !strings.HasPrefix(p.URL, "file://") {
		t.Fatalf("expected file url, got %q", p.URL)
	}
	data, err := os.ReadFile(store.path(p.Key))
	if err != nil || string(data) != "png" {
		t.Fatalf("expected preview bytes on disk, got %q, %v", data, err)
	}

	if err := store.Release(context.Background(), p); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(store.path(p.Key)); !os.IsNotExist(err) {
		t.Fatalf("expected preview removed, stat err = %v", err)
	}
	if err := store.Release(context.Background(), p); err != nil {
		t.Fatalf("second Release() should be a no-op, got %v", err)
	}
}

func TestReleaseRejectsPathKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Release(context.Background(), domain.LocalPreview{Key: "../outside.png"}); err == nil {
		t.Fatalf("expected error for key with path separators")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"atlas.png":         "atlas.png",
		"../../etc/x.png":   "x.png",
		"sprite sheet.png":  "sprite_sheet.png",
		"спрайт.png":        "______.png",
		"":                  "image.png",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
