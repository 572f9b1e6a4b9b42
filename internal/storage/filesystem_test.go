package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestStore(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(Config{
		Root:      t.TempDir(),
		PublicURL: "https://bot.example.com/",
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPut_WritesBytesUnchanged(t *testing.T) {
	fs := newTestStore(t)
	if err := fs.Put(context.Background(), "bot_file_cache/a.mp3", strings.NewReader("ID3 data")); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(fs.Root(), "bot_file_cache", "a.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ID3 data" {
		t.Fatalf("expected bytes unchanged, got %q", data)
	}
}

func TestPut_TooLarge(t *testing.T) {
	fs, err := NewFilesystem(Config{Root: t.TempDir(), MaxSizeBytes: 4, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Put(context.Background(), "bot_file_cache/big.bin", strings.NewReader("12345")); err == nil {
		t.Fatal("expected size error")
	}
	if _, err := os.Stat(filepath.Join(fs.Root(), "bot_file_cache", "big.bin")); !os.IsNotExist(err) {
		t.Fatal("oversized file should be removed")
	}
}

func TestPut_RejectsTraversal(t *testing.T) {
	fs := newTestStore(t)
	err := fs.Put(context.Background(), "../escape.txt", strings.NewReader("x"))
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}

func TestResizeAndSave_FitsWithinBounds(t *testing.T) {
	fs := newTestStore(t)
	src := pngBytes(t, 1200, 300)

	if err := fs.ResizeAndSave(context.Background(), bytes.NewReader(src), 600, 600, "bot_file_cache/wide.png"); err != nil {
		t.Fatalf("resize: %v", err)
	}

	f, err := os.Open(filepath.Join(fs.Root(), "bot_file_cache", "wide.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("stored file is not a png: %v", err)
	}
	if cfg.Width != 600 || cfg.Height != 150 {
		t.Fatalf("expected 600x150, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestResizeAndSave_SmallImageKeepsSize(t *testing.T) {
	fs := newTestStore(t)
	src := pngBytes(t, 40, 20)

	if err := fs.ResizeAndSave(context.Background(), bytes.NewReader(src), 600, 600, "bot_file_cache/small.png"); err != nil {
		t.Fatalf("resize: %v", err)
	}
	f, err := os.Open(filepath.Join(fs.Root(), "bot_file_cache", "small.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 40 || cfg.Height != 20 {
		t.Fatalf("expected 40x20, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestResizeAndSave_NotAnImage(t *testing.T) {
	fs := newTestStore(t)
	err := fs.ResizeAndSave(context.Background(), strings.NewReader("plain text"), 600, 600, "bot_file_cache/x.png")
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestURL(t *testing.T) {
	fs := newTestStore(t)
	got := fs.URL("bot_file_cache/abc.png")
	want := "https://bot.example.com/core/storage/app/bot_file_cache/abc.png"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
