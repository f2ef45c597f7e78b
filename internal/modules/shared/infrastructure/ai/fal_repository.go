package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"evimai-api/internal/config"
	"evimai-api/internal/modules/processing/domain"
	"evimai-api/internal/modules/shared/infrastructure/resilience"
)

// maxErrorBody エラー時に読み込むレスポンス本文の上限
const maxErrorBody = 4 << 10

// ErrMissingAPIKey APIキーが設定されていない
var ErrMissingAPIKey = errors.New("fal api key is not configured")

// StatusError 画像生成APIが200以外を返した
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// IsBreakerFailure ブレーカーの失敗として数えるか（429以外の4xxとキャンセルは数えない）
func IsBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return statusErr.StatusCode >= 500
	}
	return true
}

// FALRepository fal.ai 画像生成APIのリポジトリ実装
type FALRepository struct {
	apiKey            string
	imageToImageModel string
	textToImageModel  string
	httpClient        *http.Client
	breaker           *resilience.Breaker
	apiEndpoint       string // テスト用にエンドポイントを差し替え可能に
}

// NewFALRepository 新しいFALRepositoryを作成（breakerはnil可）
//
// タイムアウトは呼び出し側のcontextで制御する。
func NewFALRepository(cfg *config.FALConfig, breaker *resilience.Breaker) *FALRepository {
	return &FALRepository{
		apiKey:            cfg.APIKey,
		imageToImageModel: cfg.ImageToImageModel,
		textToImageModel:  cfg.TextToImageModel,
		httpClient:        &http.Client{},
		breaker:           breaker,
		apiEndpoint:       strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// SetHTTPClient テスト用にHTTPクライアントを設定（テストコードからのみ使用）
func (r *FALRepository) SetHTTPClient(client *http.Client) {
	r.httpClient = client
}

// Configured APIキーが設定されているか
func (r *FALRepository) Configured() bool {
	return r.apiKey != ""
}

// ProviderName プロバイダー名を返す
func (r *FALRepository) ProviderName() string {
	return "fal.ai"
}

// Generate 画像を生成
func (r *FALRepository) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationOutput, error) {
	if !r.Configured() {
		return nil, ErrMissingAPIKey
	}

	model := r.modelFor(req.Method)

	var output *domain.GenerationOutput
	call := func(ctx context.Context) error {
		out, err := r.post(ctx, model, req)
		if err != nil {
			return err
		}
		output = out
		return nil
	}

	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(ctx, string(req.Method), call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return nil, fmt.Errorf("generator circuit open: %w", err)
		}
		return nil, err
	}

	return output, nil
}

func (r *FALRepository) modelFor(method domain.InputMethod) string {
	if method == domain.InputImageToImage {
		return r.imageToImageModel
	}
	return r.textToImageModel
}

type falRequest struct {
	Prompt              string  `json:"prompt"`
	ImageURL            string  `json:"image_url,omitempty"`
	Strength            float64 `json:"strength,omitempty"`
	GuidanceScale       float64 `json:"guidance_scale,omitempty"`
	NumInferenceSteps   int     `json:"num_inference_steps,omitempty"`
	ImageSize           string  `json:"image_size,omitempty"`
	Seed                int64   `json:"seed,omitempty"`
	NumImages           int     `json:"num_images"`
	EnableSafetyChecker bool    `json:"enable_safety_checker"`
}

type falResponse struct {
	Images []struct {
		URL         string `json:"url"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		ContentType string `json:"content_type"`
	} `json:"images"`
	Seed int64 `json:"seed"`
}

// post 1回分のAPI呼び出し
func (r *FALRepository) post(ctx context.Context, model string, req *domain.GenerationRequest) (*domain.GenerationOutput, error) {
	body := falRequest{
		Prompt:              req.Prompt,
		GuidanceScale:       req.GuidanceScale,
		NumInferenceSteps:   req.Steps,
		Seed:                req.Seed,
		NumImages:           1,
		EnableSafetyChecker: true,
	}
	if req.Method == domain.InputImageToImage {
		body.ImageURL = req.ImageURL
		body.Strength = req.Strength
	} else {
		body.ImageSize = req.ImageSize
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiEndpoint+"/"+model, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Key "+r.apiKey)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	var response falResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", domain.ErrMalformedResponse, err)
	}

	if len(response.Images) == 0 || response.Images[0].URL == "" {
		return nil, fmt.Errorf("%w: response contains no image", domain.ErrMalformedResponse)
	}

	output := &domain.GenerationOutput{
		Seed:  response.Seed,
		Model: model,
	}
	for _, img := range response.Images {
		output.Images = append(output.Images, domain.GeneratedImage{
			URL:         img.URL,
			Width:       img.Width,
			Height:      img.Height,
			ContentType: img.ContentType,
		})
	}
	return output, nil
}
