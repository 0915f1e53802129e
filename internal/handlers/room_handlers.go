package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatrelay/internal/delivery"
	"chatrelay/internal/errs"
	"chatrelay/internal/history"
	"chatrelay/internal/models"
	"chatrelay/internal/services"
	"chatrelay/pkg/logger"
)

// Evictor cuts a user's live subscriptions to a room they no longer belong to.
type Evictor interface {
	Evict(userID, roomID string) int
}

type RoomHandlers struct {
	roomService *services.RoomService
	pager       *history.Pager
	engine      *delivery.Engine
	evictor     Evictor
}

func NewRoomHandlers(roomService *services.RoomService, pager *history.Pager, engine *delivery.Engine, evictor Evictor) *RoomHandlers {
	return &RoomHandlers{
		roomService: roomService,
		pager:       pager,
		engine:      engine,
		evictor:     evictor,
	}
}

func (h *RoomHandlers) AccessConversation(w http.ResponseWriter, r *http.Request) {
	var req models.AccessConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrValidation.WithMessage("invalid request body"))
		return
	}

	conv, err := h.roomService.AccessConversation(r.Context(), userID(r), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *RoomHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.roomService.ListConversations(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *RoomHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req models.CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrValidation.WithMessage("invalid request body"))
		return
	}

	group, err := h.roomService.CreateGroup(r.Context(), userID(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *RoomHandlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.roomService.ListGroups(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// RenameGroup serves PUT /groups/{groupID}.
func (h *RoomHandlers) RenameGroup(w http.ResponseWriter, r *http.Request) {
	var req models.RenameGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrValidation.WithMessage("invalid request body"))
		return
	}

	group, err := h.roomService.RenameGroup(r.Context(), userID(r), mux.Vars(r)["groupID"], req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// AddGroupMember serves POST /groups/{groupID}/members.
func (h *RoomHandlers) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	var req models.AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrValidation.WithMessage("invalid request body"))
		return
	}

	group, err := h.roomService.AddMember(r.Context(), userID(r), mux.Vars(r)["groupID"], req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// RemoveGroupMember serves DELETE /groups/{groupID}/members/{userID}.
func (h *RoomHandlers) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	group, err := h.roomService.RemoveMember(r.Context(), userID(r), vars["groupID"], vars["userID"])
	if err != nil {
		writeError(w, err)
		return
	}
	if h.evictor != nil {
		h.evictor.Evict(vars["userID"], group.ID)
	}
	writeJSON(w, http.StatusOK, group)
}

// GetMessages serves /rooms/{roomID}/messages?page=&limit=.
func (h *RoomHandlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	if err := h.roomService.CanAccess(r.Context(), userID(r), roomID); err != nil {
		writeError(w, err)
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := queryInt(r, "limit", h.pager.DefaultSize())
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.pager.Page(r.Context(), roomID, page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostMessage sends into a room over HTTP. Delivery is the same as for a
// send_message event.
func (h *RoomHandlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req models.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrValidation.WithMessage("invalid request body"))
		return
	}

	sender := userID(r)
	room, err := h.roomService.Room(r.Context(), sender, mux.Vars(r)["roomID"])
	if err != nil {
		writeError(w, err)
		return
	}

	send := delivery.SendRequest{SenderID: sender, Content: req.Content, Attachment: req.Attachment}
	if room.Kind == models.RoomKindConversation {
		send.ConversationID = room.ID
	} else {
		send.GroupID = room.ID
	}

	receipt, err := h.engine.Send(r.Context(), send)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt.Message)
}

func (h *RoomHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.roomService.MarkRead(r.Context(), userID(r), mux.Vars(r)["roomID"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.ErrValidation.WithMessage("%s must be an integer", key)
	}
	return n, nil
}

func statusFor(err error) int {
	switch errs.GetCode(err) {
	case errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodeUnauthorized:
		return http.StatusUnauthorized
	case errs.CodeForbidden:
		return http.StatusForbidden
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeJSON(w, status, models.ErrorResponse{
		Code:    errs.GetCode(err),
		Message: errs.GetMessage(err),
	})
}
