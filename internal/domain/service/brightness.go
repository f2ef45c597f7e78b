package service

import (
	"bytes"
	"fmt"
	"image"
)

// brightnessSampleStep 輝度計算で走査するピクセル間隔の上限
const brightnessSampleStep = 64

// MeanBrightness 画像の平均輝度を0.0〜1.0で返す
//
// 大きな画像でも計算量が一定になるよう、縦横それぞれ最大64点を間引いて走査する。
func MeanBrightness(data []byte) (float64, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}
	if err := checkPixels(cfg); err != nil {
		return 0, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, fmt.Errorf("image has no pixels")
	}

	stepX := max(bounds.Dx()/brightnessSampleStep, 1)
	stepY := max(bounds.Dy()/brightnessSampleStep, 1)

	var sum float64
	var count int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 の輝度係数
			luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			sum += luma / 0xffff
			count++
		}
	}

	return sum / float64(count), nil
}
