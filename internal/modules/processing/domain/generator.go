package domain

import "context"

// InputMethod 画像生成の入力方式
type InputMethod string

const (
	InputImageToImage InputMethod = "image-to-image"
	InputTextToImage  InputMethod = "text-to-image"
)

// GenerationRequest 画像生成APIへのリクエスト
type GenerationRequest struct {
	Method        InputMethod
	Prompt        string
	ImageURL      string
	Strength      float64
	GuidanceScale float64
	Steps         int
	ImageSize     string
	Seed          int64
}

// GeneratedImage 生成された画像
type GeneratedImage struct {
	URL         string
	Width       int
	Height      int
	ContentType string
}

// GenerationOutput 画像生成APIのレスポンス
type GenerationOutput struct {
	Images []GeneratedImage
	Seed   int64
	Model  string
}

// ImageGenerator 画像生成APIのインターフェース
type ImageGenerator interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationOutput, error)
	ProviderName() string
}
