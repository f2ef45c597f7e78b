package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"evimai-api/internal/modules/client/domain"
	creditdomain "evimai-api/internal/modules/credit/domain"
	processingdomain "evimai-api/internal/modules/processing/domain"
)

// maxReplyBody 応答本文の読み込み上限
const maxReplyBody = 8 << 20

// RelayError リレーが2xx以外を返した
type RelayError struct {
	StatusCode int
	Code       string
	Message    string
	kind       error
}

func (e *RelayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("relay returned status %d", e.StatusCode)
}

// Unwrap 対応するセンチネルエラー
func (e *RelayError) Unwrap() error {
	return e.kind
}

// RelayClient EvimAIリレーのHTTPクライアント
type RelayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRelayClient 新しいRelayClientを作成（httpClientはnil可）
//
// タイムアウトは呼び出し側のcontextで制御する。
func NewRelayClient(baseURL string, httpClient *http.Client) *RelayClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RelayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type processReply struct {
	Success   bool                               `json:"success"`
	Result    *processingdomain.ProcessingResult `json:"result"`
	FromCache bool                               `json:"fromCache"`
	Credits   *creditdomain.Account              `json:"credits"`
}

type errorReply struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Process 画像処理を依頼
func (c *RelayClient) Process(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitReply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var reply processReply
	if err := c.do(ctx, http.MethodPost, "/api/process", bytes.NewReader(body), &reply); err != nil {
		return nil, err
	}

	if !reply.Success || reply.Result == nil {
		return nil, fmt.Errorf("%w: %w: reply has no result", processingdomain.ErrExternalAPI, processingdomain.ErrMalformedResponse)
	}

	return &domain.SubmitReply{
		Result:    reply.Result,
		FromCache: reply.FromCache || reply.Result.FromCache,
		Account:   reply.Credits,
	}, nil
}

// Credits 口座情報を取得
func (c *RelayClient) Credits(ctx context.Context, userID string) (*creditdomain.Account, error) {
	var account creditdomain.Account
	path := "/api/credits?userId=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// do リクエストを送信し、2xxなら本文をoutにデコード
func (c *RelayClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: failed to send request: %w", processingdomain.ErrExternalAPI, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", processingdomain.ErrExternalAPI, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newRelayError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w: %w", processingdomain.ErrExternalAPI, processingdomain.ErrMalformedResponse, err)
	}
	return nil
}

// newRelayError ステータスとエラーコードからRelayErrorを作成
func newRelayError(status int, data []byte) *RelayError {
	var reply errorReply
	_ = json.Unmarshal(data, &reply)

	return &RelayError{
		StatusCode: status,
		Code:       reply.Code,
		Message:    reply.Error,
		kind:       classifyRelayError(status, reply.Code),
	}
}

// classifyRelayError エラーコードを優先し、なければステータスで分類
func classifyRelayError(status int, code string) error {
	switch code {
	case "invalid_mode":
		return processingdomain.ErrInvalidMode
	case "no_image":
		return processingdomain.ErrNoImage
	case "invalid_image", "image_too_large":
		return processingdomain.ErrInvalidImage
	case "insufficient_credits":
		return processingdomain.ErrInsufficientCredits
	case "rate_limited":
		return domain.ErrRateLimited
	case "invalid_request":
		return domain.ErrInvalidRequest
	case "external_api_error":
		return processingdomain.ErrExternalAPI
	}

	switch {
	case status == http.StatusPaymentRequired:
		return processingdomain.ErrInsufficientCredits
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case status == http.StatusRequestEntityTooLarge:
		return processingdomain.ErrInvalidImage
	case status >= 500:
		return processingdomain.ErrExternalAPI
	case status >= 400:
		return domain.ErrInvalidRequest
	default:
		return processingdomain.ErrExternalAPI
	}
}

