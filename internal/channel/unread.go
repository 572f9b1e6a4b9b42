package channel

import (
	"net/http"

	"chatbridge/internal/domain"
	"chatbridge/internal/queue"
)

// handleUnread returns the offline queue of a visitor without draining it.
func (s *Server) handleUnread(rw http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(rw, http.StatusBadRequest, "userId is required")
		return
	}
	if s.driver.Queue == nil {
		writeError(rw, http.StatusServiceUnavailable, "offline queue not configured")
		return
	}

	ch := DeriveChannel(userID)
	replies, err := s.driver.Queue.Get(r.Context(), queue.Key(ch))
	if err != nil {
		s.logger.Error("read offline queue failed", "channel", ch, "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
		return
	}
	if replies == nil {
		replies = []domain.Reply{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"channel":  ch,
		"messages": replies,
	})
}

// handleClearUnread drops a visitor's offline queue once the client has
// displayed it.
func (s *Server) handleClearUnread(rw http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(rw, http.StatusBadRequest, "userId is required")
		return
	}
	if s.driver.Queue == nil {
		writeError(rw, http.StatusServiceUnavailable, "offline queue not configured")
		return
	}

	ch := DeriveChannel(userID)
	if err := s.driver.Queue.Delete(r.Context(), queue.Key(ch)); err != nil {
		s.logger.Error("clear offline queue failed", "channel", ch, "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
		return
	}
	setCORS(rw)
	rw.WriteHeader(http.StatusNoContent)
}
