package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Avicted/eventchat/internal/chat"
	"github.com/Avicted/eventchat/internal/event"
	"github.com/Avicted/eventchat/internal/room"
	"github.com/Avicted/eventchat/internal/securelog"
	"github.com/Avicted/eventchat/internal/stats"
	"github.com/Avicted/eventchat/internal/user"
	"github.com/gorilla/mux"
)

const (
	maxBodyBytes     = 1 << 20
	maxPresenceUsers = 200
	userHeader       = "X-User-ID"
)

type Handler struct {
	chat         *chat.Router
	presence     PresenceProvider
	stats        StatsProvider
	historyLimit int
}

type PresenceProvider interface {
	Statuses(ctx context.Context, ids []user.ID) map[user.ID]bool
}

type StatsProvider interface {
	Snapshot(ctx context.Context) stats.Snapshot
}

func NewHandler(router *chat.Router, presence PresenceProvider, stats StatsProvider, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Handler{
		chat:         router,
		presence:     presence,
		stats:        stats,
		historyLimit: historyLimit,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/presence", h.handlePresence).Methods(http.MethodGet)
	r.HandleFunc("/lounge/messages", h.handleLoungeMessages).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/messages", h.handleEventMessages).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/rsvp-status", h.handleRSVPStatus).Methods(http.MethodGet)
	r.HandleFunc("/direct/unread", h.handleUnread).Methods(http.MethodGet)
	r.HandleFunc("/direct/read", h.handleMarkRead).Methods(http.MethodPost)
	r.HandleFunc("/direct/{other}/messages", h.handleDirectMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations", h.handleConversations).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/block-status", h.handleBlockStatus).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/block", h.handleBlock).Methods(http.MethodPost, http.MethodDelete)
}

// viewer reads the identity forwarded by the session layer in front of
// this service.
func viewer(r *http.Request) (user.ID, error) {
	raw := strings.TrimSpace(r.Header.Get(userHeader))
	if raw == "" {
		return 0, fmt.Errorf("%w: missing %s", chat.ErrUnauthenticated, userHeader)
	}
	id, err := user.ParseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s", chat.ErrUnauthenticated, userHeader)
	}
	return id, nil
}

func (h *Handler) limit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return h.historyLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", chat.ErrInvalidInput)
	}
	if n > h.historyLimit {
		n = h.historyLimit
	}
	return n, nil
}

func pathUserID(r *http.Request, key string) (user.ID, error) {
	id, err := user.ParseID(mux.Vars(r)[key])
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a positive integer", chat.ErrInvalidInput, key)
	}
	return id, nil
}

type historyResponse struct {
	RoomID   room.ID            `json:"room_id"`
	Messages []chat.ChatMessage `json:"messages"`
}

func (h *Handler) handleEventMessages(w http.ResponseWriter, r *http.Request) {
	eventID, err := event.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: event id must be a positive integer", chat.ErrInvalidInput))
		return
	}
	h.writeRoomHistory(w, r, room.Event(int64(eventID)))
}

func (h *Handler) handleLoungeMessages(w http.ResponseWriter, r *http.Request) {
	h.writeRoomHistory(w, r, room.Lounge())
}

func (h *Handler) writeRoomHistory(w http.ResponseWriter, r *http.Request, id room.ID) {
	me, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := h.limit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := h.chat.RoomHistory(r.Context(), me, id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := historyResponse{RoomID: id, Messages: make([]chat.ChatMessage, 0, len(msgs))}
	for _, msg := range msgs {
		resp.Messages = append(resp.Messages, chat.NewChatMessage(msg))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDirectMessages(w http.ResponseWriter, r *http.Request) {
	me, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	other, err := pathUserID(r, "other")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := h.limit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := h.chat.PairHistory(r.Context(), me, other, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := historyResponse{RoomID: room.DM(me, other), Messages: make([]chat.ChatMessage, 0, len(msgs))}
	for _, msg := range msgs {
		resp.Messages = append(resp.Messages, chat.NewChatMessage(msg))
	}
	writeJSON(w, http.StatusOK, resp)
}

type rsvpStatusResponse struct {
	IsRSVPed   bool `json:"is_rsvped"`
	ChatClosed bool `json:"chat_closed"`
}

func (h *Handler) handleRSVPStatus(w http.ResponseWriter, r *http.Request) {
	me, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	eventID, err := event.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: event id must be a positive integer", chat.ErrInvalidInput))
		return
	}
	status, err := h.chat.RSVPStatus(r.Context(), me, eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rsvpStatusResponse{IsRSVPed: status.Attending, ChatClosed: status.ChatClosed})
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (h *Handler) handleUnread(w http.ResponseWriter, r *http.Request) {
	me, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var sender user.ID
	if raw := strings.TrimSpace(r.URL.Query().Get("sender_id")); raw != "" {
		sender, err = user.ParseID(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: sender_id must be a positive integer", chat.ErrInvalidInput))
			return
		}
	}
	n, err := h.chat.UnreadCount(r.Context(), me, sender)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

type markReadRequest struct {
	SenderID user.ID `json:"sender_id"`
}

type markReadResponse struct {
	Updated int64 `json:"updated"`
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	me, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req markReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %w", chat.ErrInvalidInput, err))
		return
	}
	updated, err := h.chat.MarkRead(r.Context(), me, req.SenderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Updated: updated})
}

type conversationResponse struct {
	PartnerID       user.ID          `json:"partner_id"`
	PartnerUsername string           `json:"partner_username"`
	LastMessage     chat.ChatMessage `json:"last_message"`
	UnreadCount     int64            `json:"unread_count"`
}

type conversationsResponse struct {
	Conversations []conversationResponse `json:"conversations"`
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	me, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	convs, err := h.chat.Conversations(r.Context(), me)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := conversationsResponse{Conversations: make([]conversationResponse, 0, len(convs))}
	for _, conv := range convs {
		resp.Conversations = append(resp.Conversations, conversationResponse{
			PartnerID:       conv.Partner.ID,
			PartnerUsername: conv.Partner.Username,
			LastMessage:     chat.NewChatMessage(conv.LastMessage),
			UnreadCount:     conv.Unread,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type blockStatusResponse struct {
	Blocked     bool `json:"blocked"`
	BlockedByMe bool `json:"blocked_by_me"`
	BlockedMe   bool `json:"blocked_me"`
}

func (h *Handler) handleBlockStatus(w http.ResponseWriter, r *http.Request) {
	me, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	other, err := pathUserID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := h.chat.BlockStatus(r.Context(), me, other)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blockStatusResponse{
		Blocked:     status.Blocked(),
		BlockedByMe: status.BlockedByViewer,
		BlockedMe:   status.BlockedViewer,
	})
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	me, err := viewer(r)
	if err != nil {
		writeError(w, err)
		return
	}
	other, err := pathUserID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if r.Method == http.MethodDelete {
		err = h.chat.Unblock(r.Context(), me, other)
	} else {
		err = h.chat.Block(r.Context(), me, other)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"blocked": r.Method != http.MethodDelete})
}

type presenceResponse struct {
	Statuses map[user.ID]bool `json:"statuses"`
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	if _, err := viewer(r); err != nil {
		writeError(w, err)
		return
	}
	var ids []user.ID
	for _, raw := range r.URL.Query()["user_id"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := user.ParseID(part)
			if err != nil {
				writeError(w, fmt.Errorf("%w: user_id must be a positive integer", chat.ErrInvalidInput))
				return
			}
			ids = append(ids, id)
		}
	}
	if len(ids) > maxPresenceUsers {
		writeError(w, fmt.Errorf("%w: at most %d user ids", chat.ErrInvalidInput, maxPresenceUsers))
		return
	}

	statuses := make(map[user.ID]bool, len(ids))
	if h.presence != nil && len(ids) > 0 {
		statuses = h.presence.Statuses(r.Context(), ids)
	}
	writeJSON(w, http.StatusOK, presenceResponse{Statuses: statuses})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, errors.New("stats not configured"))
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Snapshot(r.Context()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("multiple json objects are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrBlocked), errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		securelog.Error("httpapi", err)
	}
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Code: chat.Code(err)})
}
