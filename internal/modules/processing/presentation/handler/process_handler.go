package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"evimai-api/internal/domain/service"
	creditdomain "evimai-api/internal/modules/credit/domain"
	"evimai-api/internal/modules/processing/domain"
	"evimai-api/internal/modules/processing/usecase"
)

// エラーコード
const (
	CodeInvalidMode         = "invalid_mode"
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidImage        = "invalid_image"
	CodeImageTooLarge       = "image_too_large"
	CodeNoImage             = "no_image"
	CodeInsufficientCredits = "insufficient_credits"
	CodeExternalAPIError    = "external_api_error"
	CodeInternal            = "internal"
)

// DefaultMaxBodyBytes リクエストボディの既定上限（50MB）
const DefaultMaxBodyBytes int64 = 50 << 20

// ProcessingService 処理ゲートウェイのインターフェース
type ProcessingService interface {
	Submit(ctx context.Context, req domain.ProcessingRequest) (*domain.ProcessingResult, error)
	History(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error)
}

// AccountProvider レスポンスに載せる口座情報の取得元
type AccountProvider interface {
	Account(ctx context.Context, userID string) (*creditdomain.Account, error)
}

// ProcessHandler 処理APIのハンドラー
type ProcessHandler struct {
	gateway       ProcessingService
	accounts      AccountProvider
	maxBodyBytes  int64
	maxImageBytes int64
}

// NewProcessHandler 新しいProcessHandlerを作成
func NewProcessHandler(gateway ProcessingService, accounts AccountProvider, maxBodyBytes, maxImageBytes int64) *ProcessHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if maxImageBytes <= 0 {
		maxImageBytes = service.DefaultMaxImageBytes
	}
	return &ProcessHandler{
		gateway:       gateway,
		accounts:      accounts,
		maxBodyBytes:  maxBodyBytes,
		maxImageBytes: maxImageBytes,
	}
}

// ProcessRequest 処理APIのリクエスト
type ProcessRequest struct {
	Mode        string `json:"mode"`
	Style       string `json:"style,omitempty"`
	UserID      string `json:"userId"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// CreditsResponse 口座情報のレスポンス
type CreditsResponse struct {
	UserID    string `json:"userId"`
	Credits   int    `json:"credits"`
	IsPremium bool   `json:"isPremium"`
}

// ProcessResponse 処理APIのレスポンス
type ProcessResponse struct {
	Success   bool                     `json:"success"`
	Result    *domain.ProcessingResult `json:"result,omitempty"`
	FromCache bool                     `json:"fromCache"`
	Credits   *CreditsResponse         `json:"credits,omitempty"`
}

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// HistoryItem 履歴APIの1件
type HistoryItem struct {
	ID        string                   `json:"id"`
	Mode      domain.Mode              `json:"mode"`
	Style     string                   `json:"style,omitempty"`
	FromCache bool                     `json:"fromCache"`
	Result    *domain.ProcessingResult `json:"result"`
	CreatedAt string                   `json:"createdAt"`
}

// HistoryResponse 履歴APIのレスポンス
type HistoryResponse struct {
	Success bool          `json:"success"`
	UserID  string        `json:"userId"`
	Items   []HistoryItem `json:"items"`
}

// HandleProcess 画像処理ハンドラー
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "Method not allowed", "method_not_allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	// リクエストボディの読み込み
	var request ProcessRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.sendError(w, "Request body too large", CodeImageTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		h.sendError(w, "Invalid request body", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	mode, err := domain.ParseMode(request.Mode)
	if err != nil {
		h.sendError(w, "Invalid mode: "+request.Mode, CodeInvalidMode, http.StatusBadRequest)
		return
	}

	if err := creditdomain.ValidateUserID(request.UserID); err != nil {
		h.sendError(w, "userId is required", CodeInvalidRequest, http.StatusBadRequest)
		return
	}

	// 画像の復号と検証
	image, status, err := h.decodeImage(request)
	if err != nil {
		code := CodeInvalidImage
		if status == http.StatusRequestEntityTooLarge {
			code = CodeImageTooLarge
		}
		h.sendError(w, err.Error(), code, status)
		return
	}

	result, err := h.gateway.Submit(ctx, domain.ProcessingRequest{
		Mode:   mode,
		Style:  request.Style,
		UserID: request.UserID,
		Image:  image,
	})
	if err != nil {
		h.sendSubmitError(w, err)
		return
	}

	if !result.Success {
		h.sendError(w, result.Error, CodeExternalAPIError, http.StatusInternalServerError)
		return
	}

	response := ProcessResponse{
		Success:   true,
		Result:    result,
		FromCache: result.FromCache,
	}
	if account, err := h.accounts.Account(ctx, request.UserID); err == nil {
		response.Credits = &CreditsResponse{
			UserID:    account.UserID,
			Credits:   account.Credits,
			IsPremium: account.IsPremium,
		}
	} else {
		slog.Warn("Failed to load account for response", "user_id", request.UserID, "error", err)
	}

	cacheHeader := "MISS"
	if result.FromCache {
		cacheHeader = "HIT"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheHeader)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// HandleHistory 処理履歴ハンドラー
func (h *ProcessHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, "Method not allowed", "method_not_allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.sendError(w, "limit must be a non-negative integer", CodeInvalidRequest, http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.gateway.History(r.Context(), userID, limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidUserID) {
			h.sendError(w, "userId is required", CodeInvalidRequest, http.StatusBadRequest)
			return
		}
		slog.Error("Failed to load history", "user_id", userID, "error", err)
		h.sendError(w, "Internal server error", CodeInternal, http.StatusInternalServerError)
		return
	}

	items := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, HistoryItem{
			ID:        e.ID,
			Mode:      e.Mode,
			Style:     e.Style,
			FromCache: e.FromCache,
			Result:    e.Result,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HistoryResponse{
		Success: true,
		UserID:  userID,
		Items:   items,
	})
}

// decodeImage リクエストの画像を復号・検証（画像なしはnil）
func (h *ProcessHandler) decodeImage(request ProcessRequest) (*domain.ImagePayload, int, error) {
	if request.ImageBase64 == "" {
		if request.ImageURL == "" {
			return nil, http.StatusOK, nil
		}
		if !strings.HasPrefix(request.ImageURL, "https://") && !strings.HasPrefix(request.ImageURL, "http://") {
			return nil, http.StatusBadRequest, errors.New("imageUrl must be an http(s) URL")
		}
		return &domain.ImagePayload{URL: request.ImageURL}, http.StatusOK, nil
	}

	data, err := decodeBase64(request.ImageBase64)
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("imageBase64 is not valid base64")
	}

	info, err := service.ValidateImageData(data, h.maxImageBytes)
	if err != nil {
		if errors.Is(err, service.ErrImageTooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("image exceeds the size limit")
		}
		return nil, http.StatusBadRequest, errors.New("image is not a supported format")
	}

	return &domain.ImagePayload{Data: data, MIMEType: info.MIMEType}, http.StatusOK, nil
}

// decodeBase64 data URL の接頭辞を取り除いて復号
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, errors.New("malformed data url")
		}
		s = s[idx+1:]
	}
	s = strings.TrimSpace(s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// パディングなしも受け付ける
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return data, nil
}

// sendSubmitError ゲートウェイのエラーをHTTPステータスに変換して送信
func (h *ProcessHandler) sendSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		h.sendError(w, "Insufficient credits", CodeInsufficientCredits, http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrInvalidMode):
		h.sendError(w, err.Error(), CodeInvalidMode, http.StatusBadRequest)
	case errors.Is(err, domain.ErrNoImage):
		h.sendError(w, err.Error(), CodeNoImage, http.StatusBadRequest)
	case usecase.IsClientError(err):
		h.sendError(w, err.Error(), CodeInvalidRequest, http.StatusBadRequest)
	default:
		slog.Error("Processing request failed", "error", err)
		h.sendError(w, "Internal server error", CodeInternal, http.StatusInternalServerError)
	}
}

// sendError エラーレスポンスを送信
func (h *ProcessHandler) sendError(w http.ResponseWriter, message, code string, statusCode int) {
	response := ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
