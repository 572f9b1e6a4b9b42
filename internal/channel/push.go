package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"

	"chatbridge/internal/domain"
	"chatbridge/internal/metrics"
)

// PushRequest is the JSON body of a background-triggered reply.
type PushRequest struct {
	Recipient            string             `json:"recipient"`
	Text                 string             `json:"text"`
	Attachment           *domain.Attachment `json:"attachment,omitempty"`
	AdditionalParameters map[string]any     `json:"additionalParameters,omitempty"`
}

// handlePush sends a bot message outside any visitor request. The driver
// carries no request fields, so the reply is pushed to the recipient's
// channel or queued for later.
func (s *Server) handlePush(rw http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		if ok, wait := s.limiter.Allow(); !ok {
			metrics.Rejected.With(metrics.ReasonThrottled).Inc()
			rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(rw, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "bad request")
		return
	}
	defer r.Body.Close()

	if s.cfg.Secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			writeError(rw, http.StatusUnauthorized, "missing signature")
			return
		}
		if !verifyHMAC(body, s.cfg.Secret, sig) {
			writeError(rw, http.StatusForbidden, "invalid signature")
			return
		}
	}

	var req PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Recipient == "" {
		writeError(rw, http.StatusBadRequest, "recipient is required")
		return
	}
	if req.Text == "" && req.Attachment == nil {
		writeError(rw, http.StatusBadRequest, "text or attachment is required")
		return
	}

	ctx := r.Context()
	d := NewDriver(s.driver, nil, nil)
	matching := &domain.IncomingMessage{Sender: req.Recipient, Recipient: req.Recipient}
	msg := domain.OutgoingMessage{Text: req.Text, Attachment: req.Attachment}

	if err := d.Reply(ctx, msg, matching, req.AdditionalParameters); err != nil {
		s.logger.Error("push reply failed", "recipient", req.Recipient, "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := d.MessagesHandled(ctx); err != nil {
		s.logger.Error("push flush failed", "recipient", req.Recipient, "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
		return
	}

	pushed, queued := d.Delivery()
	s.logger.Info("push handled", "channel", d.Channel(), "pushed", pushed, "queued", queued)
	writeJSON(rw, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"channel": d.Channel(),
		"pushed":  pushed,
		"queued":  queued,
	})
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
