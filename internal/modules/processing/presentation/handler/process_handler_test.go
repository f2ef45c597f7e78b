package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	creditdomain "evimai-api/internal/modules/credit/domain"
	"evimai-api/internal/modules/processing/domain"
)

// MockProcessingService ProcessingServiceのモック
type MockProcessingService struct {
	SubmitFunc  func(ctx context.Context, req domain.ProcessingRequest) (*domain.ProcessingResult, error)
	HistoryFunc func(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error)

	lastRequest *domain.ProcessingRequest
}

func (m *MockProcessingService) Submit(ctx context.Context, req domain.ProcessingRequest) (*domain.ProcessingResult, error) {
	m.lastRequest = &req
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return &domain.ProcessingResult{
		Success:           true,
		Mode:              req.Mode,
		Style:             "modern",
		ProcessedImageRef: "https://fal.media/out.jpg",
		ConfidenceScore:   0.95,
		StructuredData:    map[string]any{"generated_image": "https://fal.media/out.jpg"},
	}, nil
}

func (m *MockProcessingService) History(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, userID, limit)
	}
	return nil, nil
}

// MockAccountProvider AccountProviderのモック
type MockAccountProvider struct {
	AccountFunc func(ctx context.Context, userID string) (*creditdomain.Account, error)
}

func (m *MockAccountProvider) Account(ctx context.Context, userID string) (*creditdomain.Account, error) {
	if m.AccountFunc != nil {
		return m.AccountFunc(ctx, userID)
	}
	return &creditdomain.Account{UserID: userID, Credits: 2}, nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func doProcess(t *testing.T, h *ProcessHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleProcess(w, req)
	return w
}

func TestProcessHandler_HandleProcess(t *testing.T) {
	pngData := testPNG(t)
	encoded := base64.StdEncoding.EncodeToString(pngData)

	tests := []struct {
		name       string
		body       string
		submit     func(ctx context.Context, req domain.ProcessingRequest) (*domain.ProcessingResult, error)
		wantStatus int
		wantCode   string
		wantCache  string
	}{
		{
			name:       "正常系: 画像なし",
			body:       `{"mode":"redesign","userId":"u1"}`,
			wantStatus: http.StatusOK,
			wantCache:  "MISS",
		},
		{
			name:       "正常系: base64画像",
			body:       fmt.Sprintf(`{"mode":"redesign","userId":"u1","imageBase64":%q}`, encoded),
			wantStatus: http.StatusOK,
			wantCache:  "MISS",
		},
		{
			name:       "正常系: data URL 接頭辞つき",
			body:       fmt.Sprintf(`{"mode":"staging","userId":"u1","imageBase64":%q}`, "data:image/png;base64,"+encoded),
			wantStatus: http.StatusOK,
			wantCache:  "MISS",
		},
		{
			name: "正常系: キャッシュヒット",
			body: `{"mode":"estimate","userId":"u1"}`,
			submit: func(_ context.Context, req domain.ProcessingRequest) (*domain.ProcessingResult, error) {
				return &domain.ProcessingResult{Success: true, Mode: req.Mode, FromCache: true, ProcessedImageRef: "x"}, nil
			},
			wantStatus: http.StatusOK,
			wantCache:  "HIT",
		},
		{
			name:       "異常系: 不正なJSON",
			body:       `{invalid`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "異常系: 未知のモード",
			body:       `{"mode":"paint","userId":"u1"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidMode,
		},
		{
			name:       "異常系: ユーザーIDなし",
			body:       `{"mode":"redesign"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "異常系: base64でない",
			body:       `{"mode":"redesign","userId":"u1","imageBase64":"!!!"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidImage,
		},
		{
			name:       "異常系: 画像でないデータ",
			body:       fmt.Sprintf(`{"mode":"redesign","userId":"u1","imageBase64":%q}`, base64.StdEncoding.EncodeToString([]byte("plain text"))),
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidImage,
		},
		{
			name:       "異常系: URLの形式",
			body:       `{"mode":"redesign","userId":"u1","imageUrl":"ftp://example.com/a.jpg"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidImage,
		},
		{
			name: "異常系: クレジット不足",
			body: `{"mode":"redesign","userId":"u1"}`,
			submit: func(context.Context, domain.ProcessingRequest) (*domain.ProcessingResult, error) {
				return nil, domain.ErrInsufficientCredits
			},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   CodeInsufficientCredits,
		},
		{
			name: "異常系: 画像必須",
			body: `{"mode":"staging","userId":"u1"}`,
			submit: func(context.Context, domain.ProcessingRequest) (*domain.ProcessingResult, error) {
				return nil, fmt.Errorf("%w: mode staging", domain.ErrNoImage)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeNoImage,
		},
		{
			name: "異常系: 外部APIエラー",
			body: `{"mode":"redesign","userId":"u1"}`,
			submit: func(_ context.Context, req domain.ProcessingRequest) (*domain.ProcessingResult, error) {
				return domain.NewFailedResult(req.Mode, "modern", fmt.Errorf("%w: boom", domain.ErrExternalAPI)), nil
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeExternalAPIError,
		},
		{
			name: "異常系: 内部エラー",
			body: `{"mode":"redesign","userId":"u1"}`,
			submit: func(context.Context, domain.ProcessingRequest) (*domain.ProcessingResult, error) {
				return nil, errors.New("db down")
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &MockProcessingService{SubmitFunc: tt.submit}
			h := NewProcessHandler(gateway, &MockAccountProvider{}, 0, 0)

			w := doProcess(t, h, tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}

			if tt.wantStatus == http.StatusOK {
				var resp ProcessResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("decode error = %v", err)
				}
				if !resp.Success || resp.Result == nil {
					t.Errorf("response = %+v, want success with result", resp)
				}
				if resp.Credits == nil || resp.Credits.UserID != "u1" || resp.Credits.Credits != 2 {
					t.Errorf("credits = %+v", resp.Credits)
				}
				if got := w.Header().Get("X-Cache"); got != tt.wantCache {
					t.Errorf("X-Cache = %s, want %s", got, tt.wantCache)
				}
				return
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if resp.Success || resp.Code != tt.wantCode || resp.Error == "" {
				t.Errorf("error response = %+v, want code %s", resp, tt.wantCode)
			}
		})
	}
}

func TestProcessHandler_InsufficientCreditsBody(t *testing.T) {
	gateway := &MockProcessingService{
		SubmitFunc: func(context.Context, domain.ProcessingRequest) (*domain.ProcessingResult, error) {
			return nil, domain.ErrInsufficientCredits
		},
	}
	h := NewProcessHandler(gateway, &MockAccountProvider{}, 0, 0)

	w := doProcess(t, h, `{"mode":"redesign","userId":"u1"}`)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if body["error"] != "Insufficient credits" || body["code"] != "insufficient_credits" {
		t.Errorf("body = %v", body)
	}
}

func TestProcessHandler_PassesDecodedImage(t *testing.T) {
	pngData := testPNG(t)
	gateway := &MockProcessingService{}
	h := NewProcessHandler(gateway, &MockAccountProvider{}, 0, 0)

	body := fmt.Sprintf(`{"mode":" ReDesign ","style":"classic","userId":"u1","imageBase64":%q}`,
		"data:image/png;base64,"+base64.StdEncoding.EncodeToString(pngData))
	w := doProcess(t, h, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	req := gateway.lastRequest
	if req.Mode != domain.ModeRedesign || req.Style != "classic" {
		t.Errorf("mode/style = %s/%s", req.Mode, req.Style)
	}
	if req.Image == nil || !bytes.Equal(req.Image.Data, pngData) || req.Image.MIMEType != "image/png" {
		t.Errorf("image = %+v, want decoded png", req.Image)
	}
}

func TestProcessHandler_ImageURL(t *testing.T) {
	gateway := &MockProcessingService{}
	h := NewProcessHandler(gateway, &MockAccountProvider{}, 0, 0)

	w := doProcess(t, h, `{"mode":"redesign","userId":"u1","imageUrl":"https://example.com/room.jpg"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gateway.lastRequest.Image == nil || gateway.lastRequest.Image.URL != "https://example.com/room.jpg" {
		t.Errorf("image = %+v", gateway.lastRequest.Image)
	}
}

func TestProcessHandler_SizeLimits(t *testing.T) {
	pngData := testPNG(t)
	encoded := base64.StdEncoding.EncodeToString(pngData)

	t.Run("境界値: 画像サイズ超過", func(t *testing.T) {
		h := NewProcessHandler(&MockProcessingService{}, &MockAccountProvider{}, 0, int64(len(pngData)-1))

		w := doProcess(t, h, fmt.Sprintf(`{"mode":"redesign","userId":"u1","imageBase64":%q}`, encoded))
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", w.Code)
		}
	})

	t.Run("境界値: 画像サイズちょうど", func(t *testing.T) {
		h := NewProcessHandler(&MockProcessingService{}, &MockAccountProvider{}, 0, int64(len(pngData)))

		w := doProcess(t, h, fmt.Sprintf(`{"mode":"redesign","userId":"u1","imageBase64":%q}`, encoded))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("異常系: 寸法だけが巨大な画像", func(t *testing.T) {
		ihdr := []byte("IHDR")
		ihdr = binary.BigEndian.AppendUint32(ihdr, 100000)
		ihdr = binary.BigEndian.AppendUint32(ihdr, 100000)
		ihdr = append(ihdr, 8, 6, 0, 0, 0)
		header := []byte("\x89PNG\r\n\x1a\n")
		header = binary.BigEndian.AppendUint32(header, uint32(len(ihdr)-4))
		header = append(header, ihdr...)
		header = binary.BigEndian.AppendUint32(header, crc32.ChecksumIEEE(ihdr))

		gateway := &MockProcessingService{}
		h := NewProcessHandler(gateway, &MockAccountProvider{}, 0, 0)

		w := doProcess(t, h, fmt.Sprintf(`{"mode":"estimate","userId":"u1","imageBase64":%q}`, base64.StdEncoding.EncodeToString(header)))
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", w.Code)
		}
		if gateway.lastRequest != nil {
			t.Error("oversized image should not reach the gateway")
		}
	})

	t.Run("境界値: ボディサイズ超過", func(t *testing.T) {
		h := NewProcessHandler(&MockProcessingService{}, &MockAccountProvider{}, 64, 0)

		w := doProcess(t, h, fmt.Sprintf(`{"mode":"redesign","userId":"u1","imageBase64":%q}`, encoded))
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", w.Code)
		}
	})
}

func TestProcessHandler_MethodNotAllowed(t *testing.T) {
	h := NewProcessHandler(&MockProcessingService{}, &MockAccountProvider{}, 0, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/process", nil)
	w := httptest.NewRecorder()
	h.HandleProcess(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestProcessHandler_HandleHistory(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		query      string
		history    func(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error)
		wantStatus int
		wantItems  int
		wantLimit  int
	}{
		{
			name:  "正常系: 履歴あり",
			query: "?userId=u1&limit=5",
			history: func(_ context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
				return []*domain.HistoryEntry{
					{ID: "h1", UserID: userID, Mode: domain.ModeRedesign, CreatedAt: created, Result: &domain.ProcessingResult{Success: true}},
				}, nil
			},
			wantStatus: http.StatusOK,
			wantItems:  1,
			wantLimit:  5,
		},
		{
			name:       "正常系: 履歴なし",
			query:      "?userId=u1",
			wantStatus: http.StatusOK,
			wantItems:  0,
		},
		{
			name:       "異常系: 不正なlimit",
			query:      "?userId=u1&limit=abc",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "異常系: ユーザーIDなし",
			query: "",
			history: func(context.Context, string, int) ([]*domain.HistoryEntry, error) {
				return nil, domain.ErrInvalidUserID
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "異常系: ストアエラー",
			query: "?userId=u1",
			history: func(context.Context, string, int) ([]*domain.HistoryEntry, error) {
				return nil, errors.New("db down")
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLimit int
			gateway := &MockProcessingService{
				HistoryFunc: func(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
					gotLimit = limit
					if tt.history != nil {
						return tt.history(ctx, userID, limit)
					}
					return []*domain.HistoryEntry{}, nil
				},
			}
			h := NewProcessHandler(gateway, &MockAccountProvider{}, 0, 0)

			req := httptest.NewRequest(http.MethodGet, "/api/history"+tt.query, nil)
			w := httptest.NewRecorder()
			h.HandleHistory(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp HistoryResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if len(resp.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(resp.Items), tt.wantItems)
			}
			if gotLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", gotLimit, tt.wantLimit)
			}
			if tt.wantItems > 0 && resp.Items[0].CreatedAt != "2026-01-02T03:04:05.000Z" {
				t.Errorf("createdAt = %s", resp.Items[0].CreatedAt)
			}
		})
	}
}

func TestDecodeBase64(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "正常系: 標準", input: "aGVsbG8=", want: "hello"},
		{name: "正常系: パディングなし", input: "aGVsbG8", want: "hello"},
		{name: "正常系: data URL", input: "data:image/png;base64,aGVsbG8=", want: "hello"},
		{name: "異常系: カンマなしのdata URL", input: "data:image/png;base64", wantErr: true},
		{name: "異常系: 不正な文字", input: "@@@", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBase64(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeBase64() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(got) != tt.want {
				t.Errorf("decodeBase64() = %q, want %q", got, tt.want)
			}
		})
	}
}
