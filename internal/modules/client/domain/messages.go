package domain

import (
	"context"
	"errors"

	"golang.org/x/text/language"

	processingdomain "evimai-api/internal/modules/processing/domain"
)

// FailureKind ユーザーに見せる失敗の種類
type FailureKind string

const (
	FailureInvalidMode         FailureKind = "invalid_mode"
	FailureInsufficientCredits FailureKind = "insufficient_credits"
	FailureImageEncoding       FailureKind = "image_encoding_failed"
	FailureNoImage             FailureKind = "no_image"
	FailureInvalidImage        FailureKind = "invalid_image"
	FailureInvalidRequest      FailureKind = "invalid_request"
	FailureRateLimited         FailureKind = "rate_limited"
	FailureTimedOut            FailureKind = "timed_out"
	FailureExternalAPI         FailureKind = "external_api_error"
	FailureUnknown             FailureKind = "unknown"
)

// ClassifyFailure エラーを失敗の種類に分類
func ClassifyFailure(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimedOut):
		return FailureTimedOut
	case errors.Is(err, processingdomain.ErrInvalidMode):
		return FailureInvalidMode
	case errors.Is(err, processingdomain.ErrInsufficientCredits):
		return FailureInsufficientCredits
	case errors.Is(err, ErrImageEncodingFailed):
		return FailureImageEncoding
	case errors.Is(err, processingdomain.ErrNoImage):
		return FailureNoImage
	case errors.Is(err, processingdomain.ErrInvalidImage):
		return FailureInvalidImage
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, processingdomain.ErrInvalidUserID):
		return FailureInvalidRequest
	case errors.Is(err, processingdomain.ErrExternalAPI), errors.Is(err, context.DeadlineExceeded):
		return FailureExternalAPI
	default:
		return FailureUnknown
	}
}

var supportedLanguages = []language.Tag{
	language.Turkish, // 既定
	language.English,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

var catalog = map[language.Tag]map[FailureKind]string{
	language.Turkish: {
		FailureInvalidMode:         "Geçersiz işlem modu seçildi.",
		FailureInsufficientCredits: "Ücretsiz kredileriniz bitti! Devam etmek için Premium'a geçin.",
		FailureImageEncoding:       "Görsel okunamadı. Lütfen başka bir görsel seçin.",
		FailureNoImage:             "Bu mod için bir görsel gerekli.",
		FailureInvalidImage:        "Görsel desteklenmiyor veya çok büyük.",
		FailureInvalidRequest:      "İstek geçersiz. Lütfen tekrar deneyin.",
		FailureRateLimited:         "Çok fazla istek gönderildi. Lütfen biraz bekleyin.",
		FailureTimedOut:            "İstek zaman aşımına uğradı. Lütfen internet bağlantınızı kontrol edin.",
		FailureExternalAPI:         "AI işlemi başarısız. Lütfen tekrar deneyin.",
		FailureUnknown:             "Beklenmeyen bir hata oluştu.",
	},
	language.English: {
		FailureInvalidMode:         "An invalid processing mode was selected.",
		FailureInsufficientCredits: "You are out of free credits! Upgrade to Premium to continue.",
		FailureImageEncoding:       "The image could not be read. Please choose another image.",
		FailureNoImage:             "This mode requires an image.",
		FailureInvalidImage:        "The image is not supported or is too large.",
		FailureInvalidRequest:      "The request was rejected. Please try again.",
		FailureRateLimited:         "Too many requests. Please wait a moment.",
		FailureTimedOut:            "The request timed out. Please check your internet connection.",
		FailureExternalAPI:         "AI processing failed. Please try again.",
		FailureUnknown:             "An unexpected error occurred.",
	},
}

// Messages 失敗メッセージのローカライズ
type Messages struct {
	tag language.Tag
}

// NewMessages Accept-Language形式の言語指定からMessagesを作成（未対応ならトルコ語）
func NewMessages(preferred ...string) *Messages {
	_, index := language.MatchStrings(languageMatcher, preferred...)
	return &Messages{tag: supportedLanguages[index]}
}

// Language 選択された言語
func (m *Messages) Language() language.Tag {
	return m.tag
}

// Text 失敗の種類に対応するメッセージ
func (m *Messages) Text(kind FailureKind) string {
	messages := catalog[m.tag]
	if text, ok := messages[kind]; ok {
		return text
	}
	return messages[FailureUnknown]
}

// Failure エラーに対応するメッセージ
func (m *Messages) Failure(err error) string {
	if err == nil {
		return ""
	}
	return m.Text(ClassifyFailure(err))
}

// Retryable ユーザーに再試行を促す失敗か
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureExternalAPI, FailureTimedOut, FailureRateLimited, FailureUnknown:
		return true
	default:
		return false
	}
}
