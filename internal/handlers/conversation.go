package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"CampusConnect/server/internal/auth"
	"CampusConnect/server/internal/models"
	"CampusConnect/server/internal/services"
)

// ConversationHandler exposes the conversation/message control API. Every
// route requires an authenticated identity in the request context.
type ConversationHandler struct {
	service services.ConversationService
}

func NewConversationHandler(service services.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// Routes mounts the control API on a chi router.
func (h *ConversationHandler) Routes(r chi.Router) {
	r.Post("/conversations/private", h.CreatePrivate)
	r.Post("/conversations/group", h.CreateGroup)
	r.Get("/conversations", h.List)
	r.Get("/conversations/{conversation_id}", h.Get)
	r.Patch("/conversations/{conversation_id}", h.UpdateGroup)
	r.Delete("/conversations/{conversation_id}", h.Delete)
	r.Post("/conversations/{conversation_id}/leave", h.Leave)
	r.Post("/conversations/{conversation_id}/participants", h.AddMember)
	r.Get("/conversations/{conversation_id}/messages", h.ListMessages)
	r.Post("/conversations/{conversation_id}/messages", h.SendMessage)
	r.Delete("/conversations/{conversation_id}/messages/{message_id}", h.DeleteMessage)
	r.Post("/conversations/{conversation_id}/read", h.MarkRead)
}

func (h *ConversationHandler) CreatePrivate(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		RecipientID int64 `json:"recipient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.service.CreatePrivate(r.Context(), identity.UserID, req.RecipientID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
		MemberIDs   []int64 `json:"member_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.service.CreateGroup(r.Context(), identity.UserID, req.Name, req.MemberIDs, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summaries, err := h.service.ListConversations(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.GetConversation(r.Context(), identity.UserID, conversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *ConversationHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Avatar      *string `json:"avatar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.service.UpdateGroup(r.Context(), identity.UserID, conversationID, services.UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		Avatar:      req.Avatar,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteConversation(r.Context(), identity.UserID, conversationID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	if err := h.service.LeaveConversation(r.Context(), identity.UserID, conversationID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.AddMember(r.Context(), identity.UserID, conversationID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 20
	}

	messages, err := h.service.ListMessages(r.Context(), identity.UserID, conversationID, (page-1)*limit, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"message_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.service.SendMessage(r.Context(), identity.UserID, conversationID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ConversationHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	messageID, err := strconv.ParseInt(chi.URLParam(r, "message_id"), 10, 64)
	if err != nil || messageID <= 0 {
		http.Error(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteMessage(r.Context(), identity.UserID, conversationID, messageID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, conversationID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkRead(r.Context(), identity.UserID, conversationID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) identityAndID(w http.ResponseWriter, r *http.Request) (*auth.Identity, int64, bool) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, 0, false
	}

	conversationID, err := strconv.ParseInt(chi.URLParam(r, "conversation_id"), 10, 64)
	if err != nil || conversationID <= 0 {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return nil, 0, false
	}
	return identity, conversationID, true
}
