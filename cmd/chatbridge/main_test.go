package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"chatbridge/internal/config"
	"chatbridge/internal/queue"
	"chatbridge/internal/realtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Storage.Root = filepath.Join(dir, "storage")
	cfg.Queue.DBPath = filepath.Join(dir, "queue.db")
	return cfg
}

func TestBuildServices_Defaults(t *testing.T) {
	cfg := testConfig(t)
	svc, err := buildServices(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if _, ok := svc.realtime.(*realtime.Hub); !ok {
		t.Errorf("realtime = %T, want *realtime.Hub", svc.realtime)
	}
	if svc.sqlite == nil || svc.queue != svc.sqlite {
		t.Errorf("queue = %T, want sqlite", svc.queue)
	}
	if _, err := os.Stat(cfg.Storage.Root); err != nil {
		t.Errorf("storage root not created: %v", err)
	}
}

func TestBuildServices_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Realtime.Backend = "redis"
	cfg.Realtime.RedisURL = "redis://" + mr.Addr()
	cfg.Queue.Backend = "redis"
	cfg.Queue.RedisURL = "redis://" + mr.Addr()

	svc, err := buildServices(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if _, ok := svc.realtime.(*realtime.Redis); !ok {
		t.Errorf("realtime = %T", svc.realtime)
	}
	if _, ok := svc.queue.(*queue.Redis); !ok {
		t.Errorf("queue = %T", svc.queue)
	}
	if len(svc.closers) != 1 {
		t.Errorf("expected one shared redis client, got %d closers", len(svc.closers))
	}
	if err := pingRedis(context.Background(), cfg.Realtime.RedisURL); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestBuildServices_BadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Realtime.Backend = "redis"
	cfg.Realtime.RedisURL = "not-a-url"
	if _, err := buildServices(cfg, testLogger()); err == nil {
		t.Fatal("expected error")
	}
}

func TestServer_WebhookQueuesForOfflineVisitor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Backend = "memory"
	cfg.Metrics.Enabled = true
	svc, err := buildServices(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	srv := httptest.NewServer(newServer(cfg, svc, testLogger()).Handler())
	defer srv.Close()

	form := url.Values{"driver": {"web"}, "message": {"hi"}, "userId": {"77"}}
	resp, err := http.PostForm(srv.URL+"/chat", form)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	queued, err := svc.queue.Get(context.Background(), "unread-chat_77")
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 || queued[1]["text"] != "Hello! How can I help?" {
		t.Errorf("queued = %v", queued)
	}

	m, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	m.Body.Close()
	if m.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", m.StatusCode)
	}
}

func TestBuildLogger_LogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.General.LogLevel = "debug"
	cfg.General.LogFile = filepath.Join(t.TempDir(), "logs", "chatbridge.log")

	l, closeLog, err := buildLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("debug line", "k", "v")
	closeLog()

	data, err := os.ReadFile(cfg.General.LogFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "debug line") {
		t.Errorf("log file = %q", data)
	}
}

func TestRunSetup(t *testing.T) {
	cfg := config.Defaults()
	input := strings.Join([]string{
		"0.0.0.0",                   // host
		"9000",                      // port
		"s3cret",                    // secret
		"https://chat.example.com/", // public url
		"REDIS",                     // realtime backend
		"redis://cache:6379/1",      // realtime redis url
		"bogus",                     // invalid queue backend, asked again
		"redis",                     // queue backend
		"",                          // queue redis url defaults to realtime's
	}, "\n") + "\n"

	var out strings.Builder
	if err := runSetup(cfg, strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 || cfg.Server.Secret != "s3cret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Storage.PublicURL != "https://chat.example.com" {
		t.Errorf("publicUrl = %q", cfg.Storage.PublicURL)
	}
	if cfg.Realtime.Backend != "redis" || cfg.Realtime.RedisURL != "redis://cache:6379/1" {
		t.Errorf("realtime = %+v", cfg.Realtime)
	}
	if cfg.Queue.Backend != "redis" || cfg.Queue.RedisURL != "redis://cache:6379/1" {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if !strings.Contains(out.String(), "please answer one of") {
		t.Error("expected a retry prompt for the invalid backend")
	}
}

func TestRunSetup_DefaultsOnEmptyInput(t *testing.T) {
	cfg := config.Defaults()
	if err := runSetup(cfg, strings.NewReader(""), &strings.Builder{}); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Queue.Backend != "sqlite" {
		t.Errorf("defaults changed: %+v %+v", cfg.Server, cfg.Queue)
	}
}

func TestRenderUnit(t *testing.T) {
	got := renderUnit(systemdTemplate, map[string]string{"EXEC": "/usr/bin/chatbridge", "CONFIG": "/etc/cb.yaml"})
	if !strings.Contains(got, "ExecStart=/usr/bin/chatbridge serve --config /etc/cb.yaml") {
		t.Errorf("unit:\n%s", got)
	}
	if strings.Contains(got, "{{") {
		t.Error("unreplaced placeholder")
	}
}
