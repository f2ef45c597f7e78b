package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evimai-api/internal/modules/client/domain"
	processingdomain "evimai-api/internal/modules/processing/domain"
)

func TestRelayClient_Process(t *testing.T) {
	var received domain.SubmitRequest
	var requestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/process" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		requestID = r.Header.Get("X-Request-ID")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Decode() error = %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"fromCache": true,
			"result": {"success": true, "mode": "redesign", "processedImageRef": "https://cdn/out.png", "confidenceScore": 0.9, "processedAt": "2025-01-01T00:00:00Z", "fromCache": true},
			"credits": {"userId": "u1", "credits": 2, "isPremium": false}
		}`))
	}))
	defer server.Close()

	client := NewRelayClient(server.URL+"/", nil)
	reply, err := client.Process(context.Background(), domain.SubmitRequest{
		Mode:        "redesign",
		Style:       "modern",
		UserID:      "u1",
		ImageBase64: "data:image/png;base64,AAAA",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if received.Mode != "redesign" || received.Style != "modern" || received.UserID != "u1" || received.ImageBase64 == "" {
		t.Errorf("received = %+v", received)
	}
	if requestID == "" {
		t.Error("X-Request-ID header was not sent")
	}
	if !reply.FromCache || reply.Result.ProcessedImageRef != "https://cdn/out.png" {
		t.Errorf("reply = %+v, result = %+v", reply, reply.Result)
	}
	if reply.Account == nil || reply.Account.Credits != 2 || reply.Account.UserID != "u1" {
		t.Errorf("Account = %+v", reply.Account)
	}
}

func TestRelayClient_Process_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "異常系: クレジット不足", status: 402, body: `{"success":false,"error":"Insufficient credits","code":"insufficient_credits"}`, wantErr: processingdomain.ErrInsufficientCredits},
		{name: "異常系: 402のみ", status: 402, body: ``, wantErr: processingdomain.ErrInsufficientCredits},
		{name: "異常系: 不正モード", status: 400, body: `{"error":"Invalid mode: x","code":"invalid_mode"}`, wantErr: processingdomain.ErrInvalidMode},
		{name: "異常系: 画像なし", status: 400, body: `{"error":"no image provided","code":"no_image"}`, wantErr: processingdomain.ErrNoImage},
		{name: "異常系: 画像サイズ超過", status: 413, body: `{"error":"too large","code":"image_too_large"}`, wantErr: processingdomain.ErrInvalidImage},
		{name: "異常系: リクエスト不正", status: 400, body: `{"error":"userId is required","code":"invalid_request"}`, wantErr: domain.ErrInvalidRequest},
		{name: "異常系: コードなし400", status: 400, body: `bad`, wantErr: domain.ErrInvalidRequest},
		{name: "異常系: レート制限", status: 429, body: `{"error":"Too many requests","code":"rate_limited"}`, wantErr: domain.ErrRateLimited},
		{name: "異常系: 外部API失敗", status: 500, body: `{"success":false,"error":"API returned status 503","code":"external_api_error"}`, wantErr: processingdomain.ErrExternalAPI},
		{name: "異常系: ゲートウェイエラー", status: 502, body: `<html>`, wantErr: processingdomain.ErrExternalAPI},
		{name: "異常系: 200で不正JSON", status: 200, body: `{`, wantErr: processingdomain.ErrMalformedResponse},
		{name: "異常系: 200で結果なし", status: 200, body: `{"success":true}`, wantErr: processingdomain.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewRelayClient(server.URL, nil).Process(context.Background(), domain.SubmitRequest{Mode: "redesign", UserID: "u1"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRelayClient_RelayErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"success":false,"error":"Insufficient credits","code":"insufficient_credits"}`))
	}))
	defer server.Close()

	_, err := NewRelayClient(server.URL, nil).Process(context.Background(), domain.SubmitRequest{Mode: "redesign", UserID: "u1"})

	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("error = %v, want *RelayError", err)
	}
	if relayErr.StatusCode != http.StatusPaymentRequired || relayErr.Code != "insufficient_credits" || relayErr.Message != "Insufficient credits" {
		t.Errorf("RelayError = %+v", relayErr)
	}
}

func TestRelayClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewRelayClient(url, nil).Credits(context.Background(), "u1")
	if !errors.Is(err, processingdomain.ErrExternalAPI) {
		t.Errorf("error = %v, want ErrExternalAPI", err)
	}
}

func TestRelayClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewRelayClient(server.URL, nil).Process(ctx, domain.SubmitRequest{Mode: "redesign", UserID: "u1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
	if !errors.Is(err, processingdomain.ErrExternalAPI) {
		t.Errorf("error = %v, want ErrExternalAPI", err)
	}
}

func TestRelayClient_Credits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/credits" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("userId"); got != "user one" {
			t.Errorf("userId = %q", got)
		}
		_, _ = w.Write([]byte(`{"success":true,"userId":"user one","credits":103,"isPremium":true}`))
	}))
	defer server.Close()

	account, err := NewRelayClient(server.URL, nil).Credits(context.Background(), "user one")
	if err != nil {
		t.Fatalf("Credits() error = %v", err)
	}
	if account.UserID != "user one" || account.Credits != 103 || !account.IsPremium {
		t.Errorf("account = %+v", account)
	}
}
