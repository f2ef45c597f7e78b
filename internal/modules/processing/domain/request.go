package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// CacheKeyPrefix 結果キャッシュのキー接頭辞
const CacheKeyPrefix = "evimai"

// ImagePayload リクエストに添付された画像（DataかURLのどちらか）
type ImagePayload struct {
	Data     []byte
	MIMEType string
	URL      string
}

// HasData 画像バイト列を持つか
func (p *ImagePayload) HasData() bool {
	return p != nil && len(p.Data) > 0
}

// Ref 画像生成APIに渡す参照（data URL または URL）
func (p *ImagePayload) Ref() string {
	if p == nil {
		return ""
	}
	if len(p.Data) > 0 {
		mime := p.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(p.Data))
	}
	return p.URL
}

// Digest 画像内容のsha256（URL指定の場合はURLのハッシュ）
func (p *ImagePayload) Digest() string {
	if p == nil {
		return ""
	}
	var sum [32]byte
	if len(p.Data) > 0 {
		sum = sha256.Sum256(p.Data)
	} else if p.URL != "" {
		sum = sha256.Sum256([]byte(p.URL))
	} else {
		return ""
	}
	return hex.EncodeToString(sum[:])
}

// OriginalRef レスポンスに載せる元画像の参照
//
// アップロード画像はデータ本体を返さず、内容ハッシュで参照する。
func (p *ImagePayload) OriginalRef() string {
	if p == nil {
		return ""
	}
	if len(p.Data) > 0 {
		return "upload:sha256:" + p.Digest()
	}
	return p.URL
}

// ProcessingRequest 処理リクエスト
type ProcessingRequest struct {
	Mode   Mode
	Style  string
	UserID string
	Image  *ImagePayload
}

// HasImage 画像が添付されているか
func (r *ProcessingRequest) HasImage() bool {
	return r.Image != nil && (len(r.Image.Data) > 0 || r.Image.URL != "")
}

// CacheKey モード・スタイル・画像内容から決定的なキャッシュキーを生成
func CacheKey(mode Mode, style string, image *ImagePayload) string {
	digest := image.Digest()
	if digest == "" {
		digest = "noimage"
	}
	hash := sha256.Sum256([]byte(string(mode) + "|" + style + "|" + digest))
	return fmt.Sprintf("%s:%s:%s:%s", CacheKeyPrefix, mode, style, hex.EncodeToString(hash[:]))
}

// SeedFromKey キャッシュキーから画像生成のシード値を導出
func SeedFromKey(key string) int64 {
	hash := sha256.Sum256([]byte(key))
	// 正の31bit値に収める
	return int64(binary.BigEndian.Uint32(hash[:4]) & 0x7fffffff)
}
