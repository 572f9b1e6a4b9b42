package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/metrics"
)

const (
	defaultMaxUpload = 32 << 20
	maxBodySize      = 1 << 20
)

// Responder produces the outbound values answering one incoming message.
type Responder interface {
	Respond(ctx context.Context, answer domain.Answer, user domain.User) []any
}

type ServerConfig struct {
	Host           string
	Port           int
	WebhookPath    string
	Secret         string // HMAC secret for /api/push; empty disables verification
	MaxUploadBytes int64

	// PushRatePerMinute throttles /api/push; zero disables throttling.
	PushRatePerMinute float64
	PushBurst         int

	// StorageRoot is served read-only under PublicPrefix.
	StorageRoot  string
	PublicPrefix string

	// MetricsEndpoint enables the metrics endpoint when set.
	MetricsEndpoint string
	Version         string

	Driver    *Config
	Responder Responder
	Gateway   http.Handler // websocket gateway mounted at /ws; nil disables it
	Logger    *slog.Logger
}

// Server is the HTTP surface of the bridge: the inbound webhook, background
// pushes, offline queue access and the websocket gateway.
type Server struct {
	cfg     ServerConfig
	driver  *Config
	limiter *RateLimiter
	logger  *slog.Logger
	server  *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/chat"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	cfg.PublicPrefix = strings.TrimRight(cfg.PublicPrefix, "/")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Driver == nil {
		cfg.Driver = &Config{}
	}
	if cfg.Driver.Logger == nil {
		cfg.Driver.Logger = cfg.Logger
	}
	s := &Server{cfg: cfg, driver: cfg.Driver, logger: cfg.Logger}
	if cfg.PushRatePerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.PushBurst, cfg.PushRatePerMinute)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(s.cfg.WebhookPath, s.handleWebhook)
	mux.HandleFunc("POST /api/push", s.handlePush)
	mux.HandleFunc("GET /api/unread", s.handleUnread)
	mux.HandleFunc("DELETE /api/unread", s.handleClearUnread)
	mux.HandleFunc("GET /status", s.handleStatus)

	if s.cfg.MetricsEndpoint != "" {
		mux.Handle("GET "+s.cfg.MetricsEndpoint, metrics.Collector.Handler())
	}
	if s.cfg.Gateway != nil {
		mux.Handle("GET /ws", s.cfg.Gateway)
	}
	if s.cfg.StorageRoot != "" && s.cfg.PublicPrefix != "" {
		files := http.StripPrefix(s.cfg.PublicPrefix, http.FileServer(http.Dir(s.cfg.StorageRoot)))
		mux.Handle("GET "+s.cfg.PublicPrefix+"/", files)
	}
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("chat bridge listening", "addr", "http://"+addr, "webhook", s.cfg.WebhookPath)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	setCORS(rw)
	switch r.Method {
	case http.MethodOptions:
		rw.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		rw.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(rw, r.Body, s.cfg.MaxUploadBytes)
	fields, uploads, cleanup, err := parseRequest(r, s.cfg.MaxUploadBytes)
	defer cleanup()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.Rejected.With(metrics.ReasonTooLarge).Inc()
			writeError(rw, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		writeError(rw, http.StatusBadRequest, "invalid form body")
		return
	}

	ctx := r.Context()
	d := NewDriver(s.driver, fields, uploads)
	if !d.MatchesRequest() {
		metrics.Rejected.With(metrics.ReasonNoDriver).Inc()
		s.logger.Debug("request does not match the web driver", "userId", fields["userId"])
		writeError(rw, http.StatusNotFound, "no driver matches the request")
		return
	}

	msgs, err := d.Messages(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedAttachmentType) {
			metrics.Rejected.With(metrics.ReasonUnsupportedUpload).Inc()
			s.logger.Warn("unsupported attachment", "filetype", fields["filetype"], "filename", fields["filename"])
			writeError(rw, http.StatusNotImplemented, err.Error())
			return
		}
		s.logger.Error("normalize request failed", "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
		return
	}

	if ev, ok := d.MatchingEvent(); ok {
		s.logger.Info("client event received", "event", ev.Name, "user", fields["userId"])
	} else if s.cfg.Responder != nil {
		for _, msg := range msgs {
			out := s.cfg.Responder.Respond(ctx, d.ConversationAnswer(msg), d.User(msg))
			for _, v := range out {
				if err := d.Reply(ctx, v, msg, nil); err != nil {
					s.logger.Error("reply failed", "err", err)
					writeError(rw, http.StatusInternalServerError, "internal error")
					return
				}
			}
		}
	}

	resp, err := d.MessagesHandled(ctx)
	if err != nil {
		s.logger.Error("flush replies failed", "channel", d.Channel(), "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(rw, resp.Status, resp)
}

// parseRequest reads the posted fields and file parts. Files are ordered by
// form field name, then by their order within the field.
func parseRequest(r *http.Request, maxMemory int64) (map[string]string, []Upload, func(), error) {
	cleanup := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var values map[string][]string
	var files map[string][]*multipart.FileHeader
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return nil, nil, cleanup, err
		}
		form := r.MultipartForm
		cleanup = func() { form.RemoveAll() }
		values, files = form.Value, form.File
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, nil, cleanup, err
		}
		values = r.PostForm
	}

	fields := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var uploads []Upload
	for _, name := range names {
		for _, fh := range files[name] {
			fh := fh // per-iteration copy (pre-Go 1.22 loop semantics)
			uploads = append(uploads, Upload{
				Field:    name,
				Filename: fh.Filename,
				Open:     func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	return fields, uploads, cleanup, nil
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"uptime":  metrics.Collector.Uptime().Round(time.Second).String(),
		"time":    time.Now().Format(time.RFC3339),
	})
}

func setCORS(rw http.ResponseWriter) {
	rw.Header().Set("Access-Control-Allow-Credentials", "true")
	rw.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	setCORS(rw)
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]any{"status": status, "error": msg})
}
