// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"secure-message-service/internal/domain"
	"secure-message-service/internal/middleware"
	"secure-message-service/internal/usecase"
	"secure-message-service/pkg/httputil"
)

const maxRequestBodyBytes = 1 << 20

// MessageHandler はメッセージAPIのHTTPハンドラを提供する。
type MessageHandler struct {
	engine *usecase.LifecycleEngine
}

// NewMessageHandler は新しいMessageHandlerを生成する。
func NewMessageHandler(engine *usecase.LifecycleEngine) *MessageHandler {
	return &MessageHandler{engine: engine}
}

// CreateMessageRequest は下書き作成のリクエスト形式。content があれば続けて送信する。
type CreateMessageRequest struct {
	ReceiverID string  `json:"receiver_id"`
	Subject    string  `json:"subject"`
	Content    *string `json:"content,omitempty"`
}

// TransitionRequest は遷移要求のリクエスト形式。certificate_data はbase64。
type TransitionRequest struct {
	Action          string `json:"action"`
	Content         string `json:"content,omitempty"`
	CertificateData string `json:"certificate_data,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// MessageResponse はメッセージのレスポンス形式。本文は含めない。
type MessageResponse struct {
	ID             string  `json:"id"`
	SenderID       string  `json:"sender_id"`
	ReceiverID     string  `json:"receiver_id"`
	Subject        string  `json:"subject"`
	State          string  `json:"state"`
	CertificateRef *string `json:"certificate_ref,omitempty"`
	Version        int     `json:"version"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// MessageListResponse はメッセージ一覧のレスポンス形式。
type MessageListResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// ContentResponse は本文のレスポンス形式。
type ContentResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// StatusResponse はステータスのレスポンス形式。
type StatusResponse struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CertificateResponse は証明書のレスポンス形式。
type CertificateResponse struct {
	ID              string `json:"id"`
	MessageID       string `json:"message_id"`
	IssuerID        string `json:"issuer_id"`
	CertificateData string `json:"certificate_data"`
	IssuedAt        string `json:"issued_at"`
	ValidUntil      string `json:"valid_until"`
}

// AuditEntryResponse は監査ログエントリのレスポンス形式。
type AuditEntryResponse struct {
	ID        string  `json:"id"`
	MessageID string  `json:"message_id"`
	ActorID   *string `json:"actor_id"`
	Kind      string  `json:"kind"`
	Notes     string  `json:"notes,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// AuditTrailResponse は監査ログ一覧のレスポンス形式。
type AuditTrailResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
}

// StatsResponse は集計値のレスポンス形式。
type StatsResponse struct {
	ActorID        string `json:"actor_id"`
	Role           string `json:"role"`
	SentCount      int64  `json:"sent_count"`
	ReceivedCount  int64  `json:"received_count"`
	PendingActions int64  `json:"pending_actions"`
}

// CreateMessage は下書きを作成する。
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)

	var req CreateMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	msg, err := h.engine.CreateDraft(ctx, actor, req.ReceiverID, req.Subject)
	if err != nil {
		middleware.WriteOperationLog(ctx, "CREATE_MESSAGE", actor.ID, "", middleware.ResultFailed)
		writeError(w, err)
		return
	}
	middleware.WriteOperationLog(ctx, "CREATE_MESSAGE", actor.ID, msg.ID, middleware.ResultSuccess)

	if req.Content != nil {
		msg, err = h.engine.RequestTransition(ctx, actor, msg.ID, domain.ActionSend, domain.TransitionPayload{
			Plaintext: []byte(*req.Content),
		})
		if err != nil {
			middleware.WriteOperationLog(ctx, "SEND", actor.ID, "", middleware.ResultFailed)
			writeError(w, err)
			return
		}
		middleware.WriteOperationLog(ctx, "SEND", actor.ID, msg.ID, middleware.ResultSuccess)
	}

	httputil.JSON(w, http.StatusCreated, toMessageResponse(msg))
}

// Transition はメッセージの状態遷移を要求する。
func (h *MessageHandler) Transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)
	messageID := chi.URLParam(r, "message_id")

	var req TransitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	payload := domain.TransitionPayload{Notes: req.Notes}
	if req.Content != "" {
		payload.Plaintext = []byte(req.Content)
	}
	if req.CertificateData != "" {
		data, err := base64.StdEncoding.DecodeString(req.CertificateData)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "certificate_data must be base64")
			return
		}
		payload.CertificateData = data
	}

	operation := "TRANSITION_" + req.Action
	msg, err := h.engine.RequestTransition(ctx, actor, messageID, domain.Action(req.Action), payload)
	if err != nil {
		middleware.WriteOperationLog(ctx, operation, actor.ID, messageID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteOperationLog(ctx, operation, actor.ID, messageID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, toMessageResponse(msg))
}

// ReadContent はメッセージ本文を返す。
func (h *MessageHandler) ReadContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)
	messageID := chi.URLParam(r, "message_id")

	content, err := h.engine.ReadMessage(ctx, actor, messageID)
	if err != nil {
		middleware.WriteOperationLog(ctx, "READ_MESSAGE", actor.ID, messageID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteOperationLog(ctx, "READ_MESSAGE", actor.ID, messageID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, ContentResponse{
		ID:      messageID,
		Content: string(content),
	})
}

// GetStatus はメッセージの状態を返す。
func (h *MessageHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)
	messageID := chi.URLParam(r, "message_id")

	status, err := h.engine.GetStatus(ctx, actor, messageID)
	if err != nil {
		middleware.WriteOperationLog(ctx, "GET_STATUS", actor.ID, messageID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteOperationLog(ctx, "GET_STATUS", actor.ID, messageID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, StatusResponse{
		ID:        status.ID,
		State:     string(status.State),
		CreatedAt: status.CreatedAt.Format(time.RFC3339),
		UpdatedAt: status.UpdatedAt.Format(time.RFC3339),
	})
}

// GetCertificate はメッセージの証明書を返す。
func (h *MessageHandler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)
	messageID := chi.URLParam(r, "message_id")

	cert, err := h.engine.GetCertificate(ctx, actor, messageID)
	if err != nil {
		middleware.WriteOperationLog(ctx, "GET_CERTIFICATE", actor.ID, messageID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteOperationLog(ctx, "GET_CERTIFICATE", actor.ID, messageID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, CertificateResponse{
		ID:              cert.ID,
		MessageID:       cert.MessageID,
		IssuerID:        cert.IssuerID,
		CertificateData: base64.StdEncoding.EncodeToString(cert.CertificateData),
		IssuedAt:        cert.IssuedAt.Format(time.RFC3339),
		ValidUntil:      cert.ValidUntil.Format(time.RFC3339),
	})
}

// AuditTrail はメッセージの監査ログを新しい順に返す。
func (h *MessageHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)
	messageID := chi.URLParam(r, "message_id")

	entries, err := h.engine.AuditTrail(ctx, actor, messageID)
	if err != nil {
		middleware.WriteOperationLog(ctx, "AUDIT_TRAIL", actor.ID, messageID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	resp := AuditTrailResponse{Entries: make([]AuditEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, AuditEntryResponse{
			ID:        e.ID,
			MessageID: e.MessageID,
			ActorID:   e.ActorID,
			Kind:      string(e.Kind),
			Notes:     e.Notes,
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		})
	}

	middleware.WriteOperationLog(ctx, "AUDIT_TRAIL", actor.ID, messageID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, resp)
}

// ListPending はアクターの役割が処理待ちのメッセージを返す。
func (h *MessageHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)

	msgs, err := h.engine.ListPending(ctx, actor)
	if err != nil {
		middleware.WriteOperationLog(ctx, "LIST_PENDING", actor.ID, "", middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteOperationLog(ctx, "LIST_PENDING", actor.ID, "", middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, toMessageListResponse(msgs))
}

// Inbox は受信したメッセージを返す。
func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	h.listMailbox(w, r, "INBOX", h.engine.Inbox)
}

// Outbox は送信したメッセージを返す。
func (h *MessageHandler) Outbox(w http.ResponseWriter, r *http.Request) {
	h.listMailbox(w, r, "OUTBOX", h.engine.Outbox)
}

type mailboxFunc func(ctx context.Context, actor domain.Actor, filter domain.MessageFilter) ([]*domain.Message, error)

func (h *MessageHandler) listMailbox(w http.ResponseWriter, r *http.Request, operation string, list mailboxFunc) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)

	filter, err := parseFilter(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	msgs, err := list(ctx, actor, filter)
	if err != nil {
		middleware.WriteOperationLog(ctx, operation, actor.ID, "", middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteOperationLog(ctx, operation, actor.ID, "", middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, toMessageListResponse(msgs))
}

// Stats はアクターの集計値を返す。
func (h *MessageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.ActorFromContext(ctx)

	stats, err := h.engine.Stats(ctx, actor)
	if err != nil {
		middleware.WriteOperationLog(ctx, "STATS", actor.ID, "", middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteOperationLog(ctx, "STATS", actor.ID, "", middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, StatsResponse{
		ActorID:        stats.ActorID,
		Role:           string(stats.Role),
		SentCount:      stats.SentCount,
		ReceivedCount:  stats.ReceivedCount,
		PendingActions: stats.PendingActions,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseFilter(r *http.Request) (domain.MessageFilter, error) {
	q := r.URL.Query()
	filter := domain.MessageFilter{
		State:        domain.MessageState(q.Get("state")),
		Counterparty: q.Get("counterparty"),
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, fmt.Errorf("%s must be RFC3339", p.name)
			}
			*p.dst = &t
		}
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return filter, fmt.Errorf("%s must be an integer", p.name)
			}
			*p.dst = n
		}
	}
	return filter, nil
}

// writeError はドメインエラーをHTTPステータスとエラーコードに変換する。
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.Error(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "message not found")
	case errors.Is(err, domain.ErrCertificateNotFound):
		httputil.Error(w, http.StatusNotFound, "CERTIFICATE_NOT_FOUND", "certificate not found")
	case errors.Is(err, domain.ErrUnauthenticated):
		httputil.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
	case errors.Is(err, domain.ErrForbidden):
		httputil.Error(w, http.StatusForbidden, "FORBIDDEN", "operation not permitted")
	case errors.Is(err, domain.ErrInvalidState):
		httputil.Error(w, http.StatusConflict, "INVALID_STATE", "message is not in the required state")
	case errors.Is(err, domain.ErrAlreadyCertified):
		httputil.Error(w, http.StatusConflict, "ALREADY_CERTIFIED", "message already certified")
	case errors.Is(err, domain.ErrContentUnavailable):
		httputil.Error(w, http.StatusUnprocessableEntity, "CONTENT_UNAVAILABLE", domain.ErrContentUnavailable.Error())
	case errors.Is(err, domain.ErrInvalidAction):
		httputil.Error(w, http.StatusBadRequest, "INVALID_ACTION", "unknown action")
	case errors.Is(err, domain.ErrInvalidInput):
		httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, domain.ErrStorageFailure):
		httputil.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage temporarily unavailable, retry later")
	default:
		slog.Error("unexpected error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func toMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Subject:        m.Subject,
		State:          string(m.State),
		CertificateRef: m.CertificateRef,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      m.UpdatedAt.Format(time.RFC3339),
	}
}

func toMessageListResponse(msgs []*domain.Message) MessageListResponse {
	resp := MessageListResponse{Messages: make([]MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	return resp
}
