package server

import (
	"encoding/json"
	"io"
	"net/http"

	"docgram/pkg/domain"
)

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	UserMessage      domain.Message `json:"user_message"`
	AssistantMessage domain.Message `json:"assistant_message"`
}

// handleMessages serves the conversation thread for a post. POST
// returns immediately with the pending assistant placeholder; the
// answer is filled in by the background worker.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User, postID string) {
	switch r.Method {
	case http.MethodGet:
		_, limit := pagination(r)
		messages, err := s.app.Messages(user.ID, postID, limit)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: messages, Count: len(messages)})
	case http.MethodPost:
		var req askRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		userMsg, placeholder, err := s.app.AskQuestion(r.Context(), user.ID, postID, req.Query)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, askResponse{UserMessage: userMsg, AssistantMessage: placeholder})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request, user domain.User, messageID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteMessage(user.ID, messageID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
