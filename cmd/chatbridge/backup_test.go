package main

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestBackupRoundTrip(t *testing.T) {
	src := t.TempDir()
	cfgFile := filepath.Join(src, "config.json")
	dbFile := filepath.Join(src, "queue.db")
	media := filepath.Join(src, "storage", "bot_file_cache")
	os.MkdirAll(media, 0o755)
	os.WriteFile(cfgFile, []byte(`{"server":{}}`), 0o644)
	os.WriteFile(dbFile, []byte("SQLite format 3"), 0o644)
	os.WriteFile(filepath.Join(media, "a.png"), []byte("\x89PNG"), 0o644)

	entries := map[string]string{
		"config.json":    cfgFile,
		"queue/queue.db": dbFile,
	}
	if err := collectDir(filepath.Join(src, "storage"), archiveStorageDir, entries); err != nil {
		t.Fatal(err)
	}
	if _, ok := entries["storage/bot_file_cache/a.png"]; !ok {
		t.Fatalf("media not collected: %v", entries)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if _, err := createTarGz(archive, entries); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	targets := restoreTargets{
		configPath:  filepath.Join(dst, "cfg", "config.json"),
		queueDir:    filepath.Join(dst, "data"),
		storageRoot: filepath.Join(dst, "media"),
	}
	restored, err := extractTarGz(archive, targets)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 3 {
		t.Fatalf("restored %v", restored)
	}

	for path, want := range map[string]string{
		targets.configPath:                                     `{"server":{}}`,
		filepath.Join(dst, "data", "queue.db"):                 "SQLite format 3",
		filepath.Join(dst, "media", "bot_file_cache", "a.png"): "\x89PNG",
	} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("read %s: %v", path, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, _ := os.Create(archive)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	body := []byte("x")
	tw.WriteHeader(&tar.Header{Name: "storage/../../etc/passwd", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg})
	tw.Write(body)
	tw.Close()
	gz.Close()
	f.Close()

	dst := t.TempDir()
	_, err := extractTarGz(archive, restoreTargets{
		configPath:  filepath.Join(dst, "config.json"),
		queueDir:    dst,
		storageRoot: filepath.Join(dst, "media"),
	})
	if err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestHumanSize(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}
