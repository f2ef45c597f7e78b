package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF形式のサポート
	_ "image/jpeg" // JPEG形式のサポート
	_ "image/png"  // PNG形式のサポート

	_ "golang.org/x/image/webp" // WebP形式のサポート
)

// DefaultMaxImageBytes 画像サイズの既定上限（20MB）
const DefaultMaxImageBytes int64 = 20 << 20

// MaxImagePixels デコードを許可する総ピクセル数の上限
const MaxImagePixels int64 = 40_000_000

var (
	// ErrEmptyImage 画像データが空
	ErrEmptyImage = errors.New("image data is empty")
	// ErrImageTooLarge 画像サイズが上限を超えている
	ErrImageTooLarge = errors.New("image size exceeds limit")
	// ErrUnsupportedImage 対応していない画像形式
	ErrUnsupportedImage = errors.New("unsupported image format")
)

var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// ImageInfo 検証済み画像のメタデータ
type ImageInfo struct {
	Format   string
	MIMEType string
	Width    int
	Height   int
	Size     int
}

// ValidateImageData 画像データを検証（maxBytes<=0 の場合は既定上限）
func ValidateImageData(data []byte, maxBytes int64) (*ImageInfo, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes > %d bytes", ErrImageTooLarge, len(data), maxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	mimeType, ok := mimeTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, format)
	}

	if err := checkPixels(cfg); err != nil {
		return nil, err
	}

	return &ImageInfo{
		Format:   format,
		MIMEType: mimeType,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Size:     len(data),
	}, nil
}

// checkPixels 宣言された寸法が上限内か
func checkPixels(cfg image.Config) error {
	pixels := int64(cfg.Width) * int64(cfg.Height)
	if pixels > MaxImagePixels {
		return fmt.Errorf("%w: %dx%d pixels > %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, MaxImagePixels)
	}
	return nil
}
