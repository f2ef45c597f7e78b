package domain

import "errors"

var (
	// ErrInvalidMode 未知の処理モード
	ErrInvalidMode = errors.New("invalid mode")
	// ErrNoImage 画像必須のモードで画像が指定されていない
	ErrNoImage = errors.New("no image provided")
	// ErrInvalidImage 画像データが不正
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidUserID ユーザーIDが指定されていない
	ErrInvalidUserID = errors.New("userId is required")
	// ErrInsufficientCredits クレジット不足
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrExternalAPI 画像生成APIの呼び出し失敗
	ErrExternalAPI = errors.New("external api error")
	// ErrMalformedResponse 画像生成APIのレスポンスが不正
	ErrMalformedResponse = errors.New("malformed generation response")
	// ErrCacheUnavailable キャッシュに到達できない
	ErrCacheUnavailable = errors.New("cache unavailable")
)
