package domain

import (
	"errors"
	"time"

	creditdomain "evimai-api/internal/modules/credit/domain"
	processingdomain "evimai-api/internal/modules/processing/domain"
)

// DefaultSubmitTimeout 送信から応答までのクライアント側タイムアウト
const DefaultSubmitTimeout = 15 * time.Second

var (
	// ErrImageEncodingFailed ローカル画像の読み込みまたはエンコードに失敗
	ErrImageEncodingFailed = errors.New("image encoding failed")
	// ErrTimedOut クライアント側タイムアウト
	ErrTimedOut = errors.New("request timed out")
	// ErrRateLimited リレーのレート制限
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRequest リレーがリクエストを拒否した
	ErrInvalidRequest = errors.New("invalid request")
)

// State 1回の撮影に対する処理状態
type State string

const (
	StateIdle      State = "idle"
	StateEncoding  State = "encoding"
	StateSubmitted State = "submitted"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal 終端状態か
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateTimedOut
}

// Capture ユーザーが開始した1回の処理要求
type Capture struct {
	Mode      string
	Style     string
	UserID    string
	ImagePath string
	ImageURL  string
}

// EncodedImage 送信用にエンコードされた画像
type EncodedImage struct {
	DataURL  string
	MIMEType string
	Width    int
	Height   int
	Size     int
}

// SubmitRequest リレーへの処理リクエスト
type SubmitRequest struct {
	Mode        string `json:"mode"`
	Style       string `json:"style,omitempty"`
	UserID      string `json:"userId"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// SubmitReply リレーからの処理結果
type SubmitReply struct {
	Result    *processingdomain.ProcessingResult
	FromCache bool
	Account   *creditdomain.Account
}

// Outcome 1回の撮影の最終結果
type Outcome struct {
	State     State
	Result    *processingdomain.ProcessingResult
	FromCache bool
	// Degraded 画像エンコードに失敗しテキストのみで送信した
	Degraded bool
	Err      error
	Message  string
}
