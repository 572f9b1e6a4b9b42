package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/queue"
	"chatbridge/internal/realtime"
	"chatbridge/internal/storage"
)

type captureResponder struct {
	answers []domain.Answer
	reply   []any
}

func (c *captureResponder) Respond(ctx context.Context, answer domain.Answer, user domain.User) []any {
	c.answers = append(c.answers, answer)
	return c.reply
}

type testServer struct {
	srv       *Server
	hub       *realtime.Hub
	queue     *queue.Memory
	blobs     *storage.Filesystem
	responder *captureResponder
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	blobs, err := storage.NewFilesystem(storage.Config{
		Root:      t.TempDir(),
		PublicURL: "http://bot.test",
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := &testServer{
		hub:       realtime.NewHub(8, testLogger()),
		queue:     queue.NewMemory(),
		blobs:     blobs,
		responder: &captureResponder{reply: []any{"pong"}},
	}
	ts.srv = NewServer(ServerConfig{
		WebhookPath:     "/chat",
		Secret:          secret,
		StorageRoot:     blobs.Root(),
		PublicPrefix:    blobs.PublicPrefix(),
		MetricsEndpoint: "/metrics",
		Driver: &Config{
			MatchingData: map[string]string{"driver": "web"},
			Realtime:     ts.hub,
			Queue:        ts.queue,
			Blobs:        blobs,
		},
		Responder: ts.responder,
		Gateway:   realtime.NewGateway(realtime.GatewayConfig{Subscriber: ts.hub, Logger: testLogger()}),
		Logger:    testLogger(),
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return resp
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
}

func formRequest(fields url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(fields.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func multipartRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mp := multipart.NewWriter(body)
	for k, v := range fields {
		mp.WriteField(k, v)
	}
	for name, data := range files {
		fw, err := mp.CreateFormFile(name, name+".png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mp.Close()
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	return req
}

func TestWebhook_TextMessageWithoutSubscriberIsQueued(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(formRequest(url.Values{"driver": {"web"}, "message": {"ping"}, "userId": {"42"}}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	assertCORS(t, rec)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != 200 || len(resp.Messages) != 0 {
		t.Errorf("resp = %+v", resp)
	}

	queued, _ := ts.queue.Get(context.Background(), "unread-chat_42")
	if len(queued) != 2 {
		t.Fatalf("expected echo and answer queued, got %v", queued)
	}
	if queued[0]["from"] != "visitor" || queued[0]["text"] != "ping" || queued[1]["text"] != "pong" {
		t.Errorf("queued = %v", queued)
	}
}

func TestWebhook_LiveSubscriberReceivesReplies(t *testing.T) {
	ts := newTestServer(t, "")
	events, cancel, err := ts.hub.Subscribe(context.Background(), "chat_42")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	rec := ts.do(formRequest(url.Values{"driver": {"web"}, "message": {"ping"}, "userId": {"42"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []domain.RealtimeEvent
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for publish")
		}
	}
	if got[0].Event != "chat_message" || got[1].Data.(domain.Reply)["text"] != "pong" {
		t.Errorf("events = %+v", got)
	}
	if queued, _ := ts.queue.Get(context.Background(), "unread-chat_42"); len(queued) != 0 {
		t.Errorf("nothing should be queued, got %v", queued)
	}
}

func TestWebhook_NoUserIDAnswersInBody(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(formRequest(url.Values{"driver": {"web"}, "message": {"ping"}}))
	resp := decodeResponse(t, rec)
	if len(resp.Messages) != 2 || resp.Messages[1]["text"] != "pong" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestWebhook_ImageUpload(t *testing.T) {
	ts := newTestServer(t, "")
	ts.responder.reply = nil
	req := multipartRequest(t, map[string]string{
		"driver": "web", "userId": "42", "filetype": "image/png", "filename": "photo.png",
	}, map[string][]byte{"file": pngBytes(t, 64, 32)})

	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if resp := decodeResponse(t, rec); resp.Status != 200 {
		t.Errorf("status field = %d", resp.Status)
	}

	if len(ts.responder.answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(ts.responder.answers))
	}
	msg := ts.responder.answers[0].Message
	if msg.Text != domain.ImagePattern {
		t.Errorf("text = %q", msg.Text)
	}
	if len(msg.Images) != 1 || len(msg.Attachments()) != 1 {
		t.Fatalf("attachments = %+v", msg.Attachments())
	}

	queued, _ := ts.queue.Get(context.Background(), "unread-chat_42")
	if len(queued) != 1 {
		t.Fatalf("queued = %v", queued)
	}
	att, ok := queued[0]["attachment"].(map[string]any)
	if !ok || att["type"] != "image" || att["url"] != msg.Images[0].URL {
		t.Errorf("echo attachment = %#v", queued[0]["attachment"])
	}

	// The stored image is served under the public prefix.
	path := strings.TrimPrefix(msg.Images[0].URL, "http://bot.test")
	get := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
	if get.Code != http.StatusOK {
		t.Fatalf("GET %s = %d", path, get.Code)
	}
	if !bytes.HasPrefix(get.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected PNG bytes")
	}
}

func TestWebhook_UnsupportedAttachmentIs501(t *testing.T) {
	ts := newTestServer(t, "")
	req := multipartRequest(t, map[string]string{
		"driver": "web", "userId": "42", "filetype": "text/html", "filename": "page.html",
	}, map[string][]byte{"file": []byte("<html>")})

	rec := ts.do(req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != float64(501) || !strings.Contains(body["error"].(string), "page.html") {
		t.Errorf("body = %v", body)
	}
	if len(ts.responder.answers) != 0 {
		t.Error("responder must not run")
	}
}

func TestWebhook_UnmatchedRequestHasNoSideEffects(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(formRequest(url.Values{"message": {"ping"}, "userId": {"42"}}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	assertCORS(t, rec)
	if len(ts.responder.answers) != 0 {
		t.Errorf("responder ran for %d answers", len(ts.responder.answers))
	}
	queued, err := ts.queue.Get(context.Background(), "unread-chat_42")
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 0 {
		t.Errorf("queue = %v", queued)
	}
}

func TestWebhook_UnsupportedReplyIs500(t *testing.T) {
	ts := newTestServer(t, "")
	ts.responder.reply = []any{3.14, "fine"}
	rec := ts.do(formRequest(url.Values{"driver": {"web"}, "message": {"x"}}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != 500 || len(resp.Messages) != 3 || resp.Messages[2]["text"] != "fine" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestWebhook_EventSkipsResponder(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(formRequest(url.Values{"driver": {"web"}, "eventName": {"open"}, "eventData": {"{}"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ts.responder.answers) != 0 {
		t.Error("events are not answered")
	}
}

func TestWebhook_Preflight(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(httptest.NewRequest(http.MethodOptions, "/chat", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	assertCORS(t, rec)
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("missing Access-Control-Allow-Methods")
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"recipient":"1"}`)
	if !verifyHMAC(body, "s3cret", sign(body, "s3cret")) {
		t.Error("valid HMAC should verify")
	}
	if verifyHMAC(body, "s3cret", "sha256=invalid") {
		t.Error("invalid HMAC should not verify")
	}
	if verifyHMAC(body, "s3cret", "") {
		t.Error("empty signature should not verify")
	}
}

func pushRequest(body []byte, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/push", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set("X-Signature-256", sig)
	}
	return req
}

func TestPush_DeliversToSubscriber(t *testing.T) {
	ts := newTestServer(t, "")
	events, cancel, _ := ts.hub.Subscribe(context.Background(), "chat_7")
	defer cancel()

	body := []byte(`{"recipient":"7","text":"reminder","additionalParameters":{"ticket":12}}`)
	rec := ts.do(pushRequest(body, ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["pushed"] != float64(1) || out["queued"] != float64(0) || out["channel"] != "chat_7" {
		t.Errorf("body = %v", out)
	}

	select {
	case ev := <-events:
		reply := ev.Data.(domain.Reply)
		if reply["text"] != "reminder" || reply["additionalParameters"].(map[string]any)["ticket"] != float64(12) {
			t.Errorf("reply = %v", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestPush_QueuesWhenOffline(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(pushRequest([]byte(`{"recipient":"7","text":"later"}`), ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	queued, _ := ts.queue.Get(context.Background(), "unread-chat_7")
	if len(queued) != 1 || queued[0]["text"] != "later" {
		t.Errorf("queued = %v", queued)
	}
}

func TestPush_Validation(t *testing.T) {
	ts := newTestServer(t, "")
	tests := []struct {
		body string
		want int
	}{
		{`not json`, http.StatusBadRequest},
		{`{"text":"no recipient"}`, http.StatusBadRequest},
		{`{"recipient":"1"}`, http.StatusBadRequest},
		{`{"recipient":"1","attachment":{"type":"file","url":"http://x/a.pdf"}}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		rec := ts.do(pushRequest([]byte(tt.body), ""))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.body, rec.Code, tt.want)
		}
	}
}

func TestPush_Signature(t *testing.T) {
	ts := newTestServer(t, "s3cret")
	body := []byte(`{"recipient":"1","text":"hi"}`)

	if rec := ts.do(pushRequest(body, "")); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: %d", rec.Code)
	}
	if rec := ts.do(pushRequest(body, sign(body, "wrong"))); rec.Code != http.StatusForbidden {
		t.Errorf("bad signature: %d", rec.Code)
	}
	if rec := ts.do(pushRequest(body, sign(body, "s3cret"))); rec.Code != http.StatusAccepted {
		t.Errorf("good signature: %d", rec.Code)
	}
}

func TestUnread_ReadAndClear(t *testing.T) {
	ts := newTestServer(t, "")
	ts.do(pushRequest([]byte(`{"recipient":"5","text":"a"}`), ""))
	ts.do(pushRequest([]byte(`{"recipient":"5","text":"b"}`), ""))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/unread?userId=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Channel  string         `json:"channel"`
		Messages []domain.Reply `json:"messages"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Channel != "chat_5" || len(out.Messages) != 2 || out.Messages[1]["text"] != "b" {
		t.Errorf("out = %+v", out)
	}

	// Reading does not drain.
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/unread?userId=5", nil))
	json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out.Messages) != 2 {
		t.Errorf("queue drained by read: %+v", out)
	}

	rec = ts.do(httptest.NewRequest(http.MethodDelete, "/api/unread?userId=5", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/unread?userId=5", nil))
	json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out.Messages) != 0 {
		t.Errorf("expected empty queue, got %+v", out)
	}

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/unread", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("missing userId: %d", rec.Code)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	if rec.Code != http.StatusOK || out["status"] != "ok" || out["version"] != "dev" {
		t.Errorf("status body = %v", out)
	}

	ts.do(formRequest(url.Values{"driver": {"web"}, "message": {"count me"}}))
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "chatbridge_inbound_messages_total") {
		t.Errorf("metrics output missing inbound counter:\n%s", rec.Body.String())
	}
}

func TestStaticFiles(t *testing.T) {
	ts := newTestServer(t, "")
	dir := filepath.Join(ts.blobs.Root(), "bot_file_cache")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "doc.pdf"), []byte("%PDF"), 0o644)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/core/storage/app/bot_file_cache/doc.pdf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, _ := io.ReadAll(rec.Body)
	if string(data) != "%PDF" {
		t.Errorf("body = %q", data)
	}
}
