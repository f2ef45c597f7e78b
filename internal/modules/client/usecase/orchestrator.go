package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"evimai-api/internal/modules/client/domain"
	creditdomain "evimai-api/internal/modules/credit/domain"
	processingdomain "evimai-api/internal/modules/processing/domain"
)

// Relay リレーサーバーのインターフェース
type Relay interface {
	Process(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitReply, error)
	Credits(ctx context.Context, userID string) (*creditdomain.Account, error)
}

// ImageEncoder 画像エンコーダーのインターフェース
type ImageEncoder interface {
	EncodeFile(path string) (*domain.EncodedImage, error)
}

// Options Orchestratorの設定
type Options struct {
	Timeout  time.Duration
	Messages *domain.Messages
	// OnState 状態遷移の通知先（nil可）
	OnState func(domain.State)
}

// Orchestrator 撮影1回分の encode → submit → await を制御する
type Orchestrator struct {
	relay    Relay
	encoder  ImageEncoder
	registry *processingdomain.Registry
	messages *domain.Messages
	timeout  time.Duration
	onState  func(domain.State)

	mu      sync.Mutex
	state   domain.State
	account *creditdomain.Account
}

// NewOrchestrator 新しいOrchestratorを作成
func NewOrchestrator(relay Relay, encoder ImageEncoder, registry *processingdomain.Registry, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = domain.DefaultSubmitTimeout
	}
	if opts.Messages == nil {
		opts.Messages = domain.NewMessages()
	}
	return &Orchestrator{
		relay:    relay,
		encoder:  encoder,
		registry: registry,
		messages: opts.Messages,
		timeout:  opts.Timeout,
		onState:  opts.OnState,
		state:    domain.StateIdle,
	}
}

// State 現在の状態
func (o *Orchestrator) State() domain.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Account キャッシュ済みの口座情報（未取得ならnil）
func (o *Orchestrator) Account() *creditdomain.Account {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.account == nil {
		return nil
	}
	account := *o.account
	return &account
}

// RefreshAccount サーバーから口座情報を取得してキャッシュを置き換える
func (o *Orchestrator) RefreshAccount(ctx context.Context, userID string) (*creditdomain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	account, err := o.relay.Credits(ctx, userID)
	if err != nil {
		return nil, err
	}
	o.replaceAccount(account)
	return o.Account(), nil
}

// Run 撮影1回分を処理し、終了後はIdleに戻る
func (o *Orchestrator) Run(ctx context.Context, capture domain.Capture) domain.Outcome {
	outcome := o.run(ctx, capture)
	if outcome.Err != nil {
		outcome.Message = o.messages.Failure(outcome.Err)
		slog.Warn("Capture failed",
			"mode", capture.Mode,
			"state", outcome.State,
			"kind", domain.ClassifyFailure(outcome.Err),
			"error", outcome.Err,
		)
	}
	o.transition(domain.StateIdle)
	return outcome
}

func (o *Orchestrator) run(ctx context.Context, capture domain.Capture) domain.Outcome {
	mode, err := processingdomain.ParseMode(capture.Mode)
	if err != nil {
		return o.fail(err)
	}
	spec, err := o.registry.Lookup(mode)
	if err != nil {
		return o.fail(err)
	}

	request := domain.SubmitRequest{
		Mode:     string(mode),
		Style:    capture.Style,
		UserID:   capture.UserID,
		ImageURL: capture.ImageURL,
	}

	// Encoding
	o.transition(domain.StateEncoding)
	var degraded bool
	if capture.ImagePath != "" {
		encoded, err := o.encoder.EncodeFile(capture.ImagePath)
		switch {
		case err == nil:
			request.ImageBase64 = encoded.DataURL
		case spec.RequiresImage:
			return o.fail(err)
		default:
			slog.Warn("Image encoding failed, sending text-only request", "mode", mode, "error", err)
			degraded = true
		}
	}
	if spec.RequiresImage && request.ImageBase64 == "" && request.ImageURL == "" {
		return o.fail(processingdomain.ErrNoImage)
	}

	// Submitted
	o.transition(domain.StateSubmitted)
	reply, err := o.submit(ctx, request)
	if err != nil {
		if errors.Is(err, domain.ErrTimedOut) {
			o.transition(domain.StateTimedOut)
			return domain.Outcome{State: domain.StateTimedOut, Degraded: degraded, Err: err}
		}
		outcome := o.fail(err)
		outcome.Degraded = degraded
		return outcome
	}

	if reply.Account != nil {
		o.replaceAccount(reply.Account)
	}

	o.transition(domain.StateSuccess)
	return domain.Outcome{
		State:     domain.StateSuccess,
		Result:    reply.Result,
		FromCache: reply.FromCache,
		Degraded:  degraded,
	}
}

type submitResult struct {
	reply *domain.SubmitReply
	err   error
}

// submit タイムアウト付きで送信（タイムアウト後に届いた応答は破棄）
func (o *Orchestrator) submit(ctx context.Context, request domain.SubmitRequest) (*domain.SubmitReply, error) {
	submitCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan submitResult, 1)
	go func() {
		reply, err := o.relay.Process(submitCtx, request)
		done <- submitResult{reply: reply, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(submitCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", domain.ErrTimedOut, o.timeout, res.err)
		}
		return res.reply, res.err
	case <-submitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", domain.ErrTimedOut, o.timeout)
	}
}

func (o *Orchestrator) fail(err error) domain.Outcome {
	o.transition(domain.StateFailed)
	return domain.Outcome{State: domain.StateFailed, Err: err}
}

func (o *Orchestrator) transition(state domain.State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()

	if o.onState != nil {
		o.onState(state)
	}
}

func (o *Orchestrator) replaceAccount(account *creditdomain.Account) {
	copied := *account
	o.mu.Lock()
	o.account = &copied
	o.mu.Unlock()
}
