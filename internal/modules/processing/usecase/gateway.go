package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	creditdomain "evimai-api/internal/modules/credit/domain"
	"evimai-api/internal/modules/processing/domain"
)

const (
	// DefaultCacheTTL 結果キャッシュの既定TTL
	DefaultCacheTTL = time.Hour
	// DefaultGenerationTimeout 画像生成APIの既定タイムアウト
	DefaultGenerationTimeout = 60 * time.Second
	// DefaultHistoryLimit 履歴取得の既定件数
	DefaultHistoryLimit = 20
	// MaxHistoryLimit 履歴取得の最大件数
	MaxHistoryLimit = 100
)

// 処理結果のメトリクスラベル
const (
	OutcomeSuccess             = "success"
	OutcomeCacheHit            = "cache_hit"
	OutcomeInvalidMode         = "invalid_mode"
	OutcomeInvalidRequest      = "invalid_request"
	OutcomeNoImage             = "no_image"
	OutcomeInsufficientCredits = "insufficient_credits"
	OutcomeExternalError       = "external_error"
	OutcomeInternalError       = "internal_error"
)

// CreditLedger 処理に必要なクレジット台帳の操作
type CreditLedger interface {
	HasCredits(ctx context.Context, userID string) (bool, error)
	Decrement(ctx context.Context, userID string) error
}

// Recorder 処理のメトリクス記録先
type Recorder interface {
	ObserveProcess(mode, outcome string)
	ObserveCache(status string)
	ObserveGeneration(mode, method string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveProcess(string, string) {}
func (nopRecorder) ObserveCache(string) {}
func (nopRecorder) ObserveGeneration(string, string, time.Duration) {}

// Options Gatewayの動作設定
type Options struct {
	CacheTTL          time.Duration
	GenerationTimeout time.Duration
}

// Gateway 処理リクエストを受け付けて画像生成APIへ中継する
//
// cache, history, recorder はnil可。cacheがnilの場合は常にキャッシュミスとして扱う。
type Gateway struct {
	registry  *domain.Registry
	ledger    CreditLedger
	generator domain.ImageGenerator
	cache     domain.ResultCache
	history   domain.HistoryRepository
	recorder  Recorder

	cacheTTL time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewGateway 新しいGatewayを作成
func NewGateway(
	registry *domain.Registry,
	ledger CreditLedger,
	generator domain.ImageGenerator,
	cache domain.ResultCache,
	history domain.HistoryRepository,
	recorder Recorder,
	opts Options,
) *Gateway {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = DefaultGenerationTimeout
	}
	return &Gateway{
		registry:  registry,
		ledger:    ledger,
		generator: generator,
		cache:     cache,
		history:   history,
		recorder:  recorder,
		cacheTTL:  opts.CacheTTL,
		timeout:   opts.GenerationTimeout,
		now:       time.Now,
	}
}

// Submit 処理リクエストを実行
//
// 入力不正・クレジット不足はerrorで返す。画像生成APIの失敗はSuccess=falseの結果で返し、
// クレジットは消費しない。
func (g *Gateway) Submit(ctx context.Context, req domain.ProcessingRequest) (*domain.ProcessingResult, error) {
	spec, err := g.registry.Lookup(req.Mode)
	if err != nil {
		g.recorder.ObserveProcess("", OutcomeInvalidMode)
		return nil, err
	}
	mode := string(spec.Mode)

	if err := creditdomain.ValidateUserID(req.UserID); err != nil {
		g.recorder.ObserveProcess(mode, OutcomeInvalidRequest)
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidUserID, req.UserID)
	}

	style := spec.NormalizeStyle(req.Style)
	if spec.RequiresImage && !req.HasImage() {
		g.recorder.ObserveProcess(mode, OutcomeNoImage)
		return nil, fmt.Errorf("%w: mode %s", domain.ErrNoImage, spec.Mode)
	}

	ok, err := g.ledger.HasCredits(ctx, req.UserID)
	if err != nil {
		g.recorder.ObserveProcess(mode, OutcomeInternalError)
		return nil, fmt.Errorf("failed to check credits: %w", err)
	}
	if !ok {
		g.recorder.ObserveProcess(mode, OutcomeInsufficientCredits)
		return nil, domain.ErrInsufficientCredits
	}

	key := domain.CacheKey(spec.Mode, style, req.Image)
	if cached := g.lookup(ctx, key); cached != nil {
		g.recorder.ObserveProcess(mode, OutcomeCacheHit)
		g.recordHistory(ctx, req.UserID, cached)
		return cached, nil
	}

	method := domain.InputTextToImage
	if spec.UsesImage && req.HasImage() {
		method = domain.InputImageToImage
	}

	prompt := spec.Prompt(style, method)
	genReq := &domain.GenerationRequest{
		Method:        method,
		Prompt:        prompt,
		GuidanceScale: spec.Params.GuidanceScale,
		Seed:          domain.SeedFromKey(key),
	}
	if method == domain.InputImageToImage {
		genReq.ImageURL = req.Image.Ref()
		genReq.Strength = spec.Params.Strength
		genReq.Steps = spec.Params.ImageToImageSteps
	} else {
		genReq.Steps = spec.Params.TextToImageSteps
		genReq.ImageSize = spec.Params.ImageSize
	}

	out, err := g.generate(ctx, spec.Mode, genReq)
	if err != nil {
		cause := fmt.Errorf("mode %s style %s: %w: %w", spec.Mode, style, domain.ErrExternalAPI, err)
		slog.Warn("Image generation failed",
			"mode", mode,
			"style", style,
			"method", string(method),
			"error", err,
		)
		g.recorder.ObserveProcess(mode, OutcomeExternalError)
		return domain.NewFailedResult(spec.Mode, style, cause), nil
	}

	shaped := spec.Shape(domain.ShapeInput{
		Style:             style,
		Prompt:            prompt,
		Method:            method,
		ProcessedImageRef: out.Images[0].URL,
		Image:             req.Image,
	})

	result := &domain.ProcessingResult{
		Success:           true,
		Mode:              spec.Mode,
		Style:             style,
		OriginalImageRef:  req.Image.OriginalRef(),
		ProcessedImageRef: out.Images[0].URL,
		ConfidenceScore:   shaped.ConfidenceScore,
		Features:          shaped.Features,
		Description:       shaped.Description,
		StructuredData:    shaped.StructuredData,
		InputMethod:       method,
		Provider:          g.generator.ProviderName(),
		ProcessedAt:       g.now(),
	}

	if g.cache != nil {
		if err := g.cache.Store(ctx, key, result, g.cacheTTL); err != nil {
			slog.Warn("Failed to store result in cache", "key", key, "error", err)
		}
	}

	// 成功が確定した後にのみ消費する
	if err := g.ledger.Decrement(ctx, req.UserID); err != nil {
		slog.Error("Failed to decrement credits after success",
			"user_id", req.UserID,
			"mode", mode,
			"error", err,
		)
	}

	g.recordHistory(ctx, req.UserID, result)
	g.recorder.ObserveProcess(mode, OutcomeSuccess)
	return result, nil
}

// History ユーザーの処理履歴を新しい順に取得
func (g *Gateway) History(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
	if err := creditdomain.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidUserID, userID)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if g.history == nil {
		return []*domain.HistoryEntry{}, nil
	}

	entries, err := g.history.FindByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return entries, nil
}

// Modes 受け付けるモード一覧
func (g *Gateway) Modes() []domain.Mode {
	return g.registry.Modes()
}

// lookup キャッシュを参照（到達不能はミスとして扱う）
func (g *Gateway) lookup(ctx context.Context, key string) *domain.ProcessingResult {
	if g.cache == nil {
		g.recorder.ObserveCache(string(domain.CacheMiss))
		return nil
	}

	lookup := g.cache.Lookup(ctx, key)
	g.recorder.ObserveCache(string(lookup.Status))

	switch lookup.Status {
	case domain.CacheHit:
		return lookup.Result
	case domain.CacheUnavailable:
		slog.Warn("Result cache unavailable, processing directly", "key", key, "error", lookup.Err)
	}
	return nil
}

// generate タイムアウト付きで画像生成APIを呼び出す
func (g *Gateway) generate(ctx context.Context, mode domain.Mode, req *domain.GenerationRequest) (*domain.GenerationOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := g.now()
	out, err := g.generator.Generate(ctx, req)
	g.recorder.ObserveGeneration(string(mode), string(req.Method), time.Since(start))
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Images) == 0 || out.Images[0].URL == "" {
		return nil, fmt.Errorf("%w: response contains no image", domain.ErrMalformedResponse)
	}
	return out, nil
}

// recordHistory 履歴を保存（失敗はログのみ）
func (g *Gateway) recordHistory(ctx context.Context, userID string, result *domain.ProcessingResult) {
	if g.history == nil {
		return
	}

	entry := &domain.HistoryEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Mode:      result.Mode,
		Style:     result.Style,
		FromCache: result.FromCache,
		Result:    result,
		CreatedAt: g.now(),
	}
	if err := g.history.Create(ctx, entry); err != nil {
		slog.Warn("Failed to record processing history", "user_id", userID, "error", err)
	}
}

// IsClientError 呼び出し側の入力に起因するエラーか
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidMode) ||
		errors.Is(err, domain.ErrInvalidUserID) ||
		errors.Is(err, domain.ErrNoImage) ||
		errors.Is(err, domain.ErrInvalidImage)
}
