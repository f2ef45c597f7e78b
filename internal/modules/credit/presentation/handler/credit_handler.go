package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"evimai-api/internal/modules/credit/domain"
)

// maxWebhookBody Webhookボディの上限
const maxWebhookBody = 1 << 20

// Webhookイベントの種類
const (
	EventStarted   = "started"
	EventRenewed   = "renewed"
	EventCancelled = "cancelled"
)

// Webhookの処理結果ラベル
const (
	WebhookApplied = "applied"
	WebhookIgnored = "ignored"
	WebhookFailed  = "failed"
)

// CreditService クレジット台帳のインターフェース
type CreditService interface {
	Account(ctx context.Context, userID string) (*domain.Account, error)
	GrantBonus(ctx context.Context, userID string, amount int) error
	SetPremium(ctx context.Context, userID string, premium bool) error
}

// WebhookRecorder Webhookのメトリクス記録先
type WebhookRecorder interface {
	ObserveWebhook(event, outcome string)
}

// CreditHandler クレジット関連APIのハンドラー
type CreditHandler struct {
	ledger        CreditService
	recorder      WebhookRecorder
	bonusCredits  int
	authorization string
}

// NewCreditHandler 新しいCreditHandlerを作成（recorderはnil可、authorizationが空なら認証しない）
func NewCreditHandler(ledger CreditService, recorder WebhookRecorder, bonusCredits int, authorization string) *CreditHandler {
	if bonusCredits < 0 {
		bonusCredits = domain.DefaultBonusCredits
	}
	return &CreditHandler{
		ledger:        ledger,
		recorder:      recorder,
		bonusCredits:  bonusCredits,
		authorization: authorization,
	}
}

// CreditsResponse 残高APIのレスポンス
type CreditsResponse struct {
	Success   bool   `json:"success"`
	UserID    string `json:"userId"`
	Credits   int    `json:"credits"`
	IsPremium bool   `json:"isPremium"`
}

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// WebhookEvent 課金プロバイダーのWebhookイベント
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		CustomerUserID string `json:"customer_user_id"`
	} `json:"data"`
}

// WebhookResponse Webhookの応答
type WebhookResponse struct {
	Received bool   `json:"received"`
	Event    string `json:"event,omitempty"`
	Applied  bool   `json:"applied"`
}

// HandleCredits 残高取得ハンドラー
func (h *CreditHandler) HandleCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, "Method not allowed", "method_not_allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	account, err := h.ledger.Account(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidUserID) {
			h.sendError(w, "userId is required", "invalid_request", http.StatusBadRequest)
			return
		}
		slog.Error("Failed to load credit account", "user_id", userID, "error", err)
		h.sendError(w, "Internal server error", "internal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(CreditsResponse{
		Success:   true,
		UserID:    account.UserID,
		Credits:   account.Credits,
		IsPremium: account.IsPremium,
	})
}

// HandleWebhook 課金プロバイダーのWebhookハンドラー
//
// 解析できたイベントは台帳の更新に失敗しても200を返す（失敗はログに残す）。
func (h *CreditHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "Method not allowed", "method_not_allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.authorization != "" {
		got := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.authorization)) != 1 {
			h.observe("", WebhookFailed)
			h.sendError(w, "Unauthorized", "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var event WebhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&event); err != nil {
		h.observe("", WebhookFailed)
		h.sendError(w, "Invalid webhook body", "invalid_request", http.StatusBadRequest)
		return
	}

	kind := NormalizeEventType(event.Type)
	applied := h.apply(r.Context(), kind, event.Data.CustomerUserID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(WebhookResponse{
		Received: true,
		Event:    kind,
		Applied:  applied,
	})
}

// apply イベントを台帳に反映（反映したらtrue）
func (h *CreditHandler) apply(ctx context.Context, kind, userID string) bool {
	switch kind {
	case EventStarted, EventRenewed, EventCancelled:
	default:
		slog.Info("Ignoring unknown webhook event", "event", kind)
		h.observe("unknown", WebhookIgnored)
		return false
	}

	var err error
	switch kind {
	case EventStarted:
		err = h.ledger.SetPremium(ctx, userID, true)
		if err == nil && h.bonusCredits > 0 {
			err = h.ledger.GrantBonus(ctx, userID, h.bonusCredits)
		}
	case EventRenewed:
		err = h.ledger.SetPremium(ctx, userID, true)
	case EventCancelled:
		err = h.ledger.SetPremium(ctx, userID, false)
	}

	if err != nil {
		slog.Error("Failed to apply webhook event",
			"event", kind,
			"user_id", userID,
			"error", err,
		)
		h.observe(kind, WebhookFailed)
		return false
	}

	slog.Info("Webhook event applied", "event", kind, "user_id", userID)
	h.observe(kind, WebhookApplied)
	return true
}

// NormalizeEventType "subscription.started" と "started" の両形式を正規化
func NormalizeEventType(eventType string) string {
	t := strings.ToLower(strings.TrimSpace(eventType))
	t = strings.TrimPrefix(t, "subscription.")
	switch t {
	case "canceled":
		return EventCancelled
	case "":
		return "unknown"
	}
	return t
}

func (h *CreditHandler) observe(event, outcome string) {
	if h.recorder != nil {
		h.recorder.ObserveWebhook(event, outcome)
	}
}

// sendError エラーレスポンスを送信
func (h *CreditHandler) sendError(w http.ResponseWriter, message, code string, statusCode int) {
	response := ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
