package web

import (
	"errors"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/exedev/mcpchat/internal/errors"
	"github.com/exedev/mcpchat/internal/chat"
	"github.com/exedev/mcpchat/internal/transcript"
)

// chatView is the shape of GET /api/chat.
type chatView struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	Model    string               `json:"model"`
	Settings transcript.Settings  `json:"settings"`
	Messages []transcript.Message `json:"messages"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type messageResponse struct {
	Message  transcript.Message  `json:"message"`
	Response *transcript.Message `json:"response"`
	Error    string              `json:"error,omitempty"`
}

func viewOf(sess *chat.Session) chatView {
	store := sess.Store()
	settings := store.Settings()
	msgs := store.Messages()
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	return chatView{
		ID:       store.ID(),
		Title:    store.Title(),
		Model:    settings.Model,
		Settings: settings,
		Messages: msgs,
	}
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.manager.List(r.Context())
	if err != nil {
		s.logger.Printf("⚠ Failed to list chats: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list chats")
		return
	}
	if chats == nil {
		chats = []transcript.Summary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var settings transcript.Settings
	if err := decodeBody(r, &settings); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	sess, err := s.manager.Create(r.Context(), settings)
	if err != nil {
		s.logger.Printf("⚠ Failed to create chat: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chatId query parameter is required")
		return
	}
	var req messageRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required in request body")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	res, err := sess.Turn(r.Context(), req.Content, nil)
	if err != nil {
		s.logger.Printf("⚠ Turn failed in chat %s: %v", chatID, err)
		status := http.StatusInternalServerError
		var mce *apperrors.ModelCallError
		if errors.As(err, &mce) {
			status = http.StatusBadGateway
			if mce.Retryable() {
				status = http.StatusServiceUnavailable
			}
		}
		resp := messageResponse{Error: err.Error()}
		if res != nil {
			resp.Message = res.User
		}
		writeJSON(w, status, resp)
		return
	}
	final := res.Final
	writeJSON(w, http.StatusOK, messageResponse{Message: res.User, Response: &final})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chatId query parameter is required")
		return
	}
	var patch transcript.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	updated, err := s.manager.UpdateSettings(r.Context(), chatID, patch)
	if errors.Is(err, transcript.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		s.logger.Printf("⚠ Failed to update settings of chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// session resolves the chatId query parameter, writing the error response
// when it cannot.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chatId query parameter is required")
		return nil, false
	}
	sess, err := s.manager.Session(r.Context(), chatID)
	if errors.Is(err, transcript.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	if err != nil {
		s.logger.Printf("⚠ Failed to load chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load chat")
		return nil, false
	}
	return sess, true
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}
