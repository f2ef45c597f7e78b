package infrastructure

import (
	"encoding/base64"
	"fmt"
	"os"

	"evimai-api/internal/domain/service"
	"evimai-api/internal/modules/client/domain"
)

// Encoder ローカル画像を送信用のdata URLに変換する
type Encoder struct {
	maxBytes int64
	readFile func(name string) ([]byte, error)
}

// NewEncoder 新しいEncoderを作成（maxBytes<=0 の場合は既定上限）
func NewEncoder(maxBytes int64) *Encoder {
	if maxBytes <= 0 {
		maxBytes = service.DefaultMaxImageBytes
	}
	return &Encoder{
		maxBytes: maxBytes,
		readFile: os.ReadFile,
	}
}

// EncodeFile ファイルを読み込み、画像として検証してからエンコード
func (e *Encoder) EncodeFile(path string) (*domain.EncodedImage, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", domain.ErrImageEncodingFailed)
	}

	if info, err := os.Stat(path); err == nil && info.Size() > e.maxBytes {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrImageEncodingFailed, path, service.ErrImageTooLarge)
	}

	data, err := e.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrImageEncodingFailed, err)
	}

	return e.Encode(data)
}

// Encode メモリ上の画像データをエンコード
func (e *Encoder) Encode(data []byte) (*domain.EncodedImage, error) {
	info, err := service.ValidateImageData(data, e.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrImageEncodingFailed, err)
	}

	return &domain.EncodedImage{
		DataURL:  fmt.Sprintf("data:%s;base64,%s", info.MIMEType, base64.StdEncoding.EncodeToString(data)),
		MIMEType: info.MIMEType,
		Width:    info.Width,
		Height:   info.Height,
		Size:     info.Size,
	}, nil
}
