package domain

import (
	"fmt"
	"strings"
)

// Mode 処理モード
type Mode string

const (
	ModeRedesign   Mode = "redesign"
	ModeStaging    Mode = "staging"
	ModeEstimate   Mode = "estimate"
	ModeRenovation Mode = "renovation"
)

// AllModes 定義済みの全モード
var AllModes = []Mode{ModeRedesign, ModeStaging, ModeEstimate, ModeRenovation}

// ParseMode 文字列をModeに変換（大文字小文字と前後の空白は無視）
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllModes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// PromptBuilder スタイルと入力方式からプロンプトを組み立てる
type PromptBuilder func(style string, method InputMethod) string

// ResponseShaper 生成結果をモード固有のレスポンスに整形する
type ResponseShaper func(in ShapeInput) Shaped

// GenerationParams 画像生成APIに渡すモード固有のパラメータ
type GenerationParams struct {
	Strength          float64
	GuidanceScale     float64
	ImageToImageSteps int
	TextToImageSteps  int
	ImageSize         string
}

// ModeSpec モードごとの処理定義
type ModeSpec struct {
	Mode Mode
	// RequiresImage 画像なしのリクエストを拒否する
	RequiresImage bool
	// UsesImage 画像を生成の入力として使う（falseなら常にtext-to-image）
	UsesImage bool
	// Styles 受け付けるスタイル。空なら任意のスタイルをそのまま使う
	Styles       []string
	DefaultStyle string
	Params       GenerationParams
	Prompt       PromptBuilder
	Shape        ResponseShaper
}

// MaxStyleLength スタイル名の最大文字数（履歴のstyle列に合わせる）
const MaxStyleLength = 32

// NormalizeStyle スタイルを正規化（未知のスタイルはDefaultStyleに寄せる）
func (s ModeSpec) NormalizeStyle(style string) string {
	style = strings.ToLower(strings.TrimSpace(style))
	if style == "" {
		return s.DefaultStyle
	}
	if len(s.Styles) == 0 {
		if runes := []rune(style); len(runes) > MaxStyleLength {
			style = strings.TrimSpace(string(runes[:MaxStyleLength]))
		}
		return style
	}
	for _, known := range s.Styles {
		if style == known {
			return style
		}
	}
	return s.DefaultStyle
}

// Registry モードから処理定義を引くレジストリ
type Registry struct {
	specs map[Mode]ModeSpec
}

// NewRegistry 全モードが1回ずつ定義されていることを検証してRegistryを作成
func NewRegistry(specs ...ModeSpec) (*Registry, error) {
	known := make(map[Mode]bool, len(AllModes))
	for _, m := range AllModes {
		known[m] = true
	}

	r := &Registry{specs: make(map[Mode]ModeSpec, len(specs))}
	for _, spec := range specs {
		if !known[spec.Mode] {
			return nil, fmt.Errorf("registry: unknown mode %q", spec.Mode)
		}
		if _, dup := r.specs[spec.Mode]; dup {
			return nil, fmt.Errorf("registry: duplicate mode %q", spec.Mode)
		}
		if spec.Prompt == nil || spec.Shape == nil {
			return nil, fmt.Errorf("registry: mode %q has no prompt builder or shaper", spec.Mode)
		}
		r.specs[spec.Mode] = spec
	}

	for _, m := range AllModes {
		if _, ok := r.specs[m]; !ok {
			return nil, fmt.Errorf("registry: mode %q is not defined", m)
		}
	}
	return r, nil
}

// DefaultRegistry 標準の4モードを持つRegistryを作成
func DefaultRegistry() (*Registry, error) {
	return NewRegistry(
		redesignSpec(),
		stagingSpec(),
		estimateSpec(),
		renovationSpec(),
	)
}

// Lookup モードの処理定義を取得
func (r *Registry) Lookup(mode Mode) (ModeSpec, error) {
	spec, ok := r.specs[mode]
	if !ok {
		return ModeSpec{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return spec, nil
}

// Modes 登録済みのモードを定義順で返す
func (r *Registry) Modes() []Mode {
	modes := make([]Mode, 0, len(r.specs))
	for _, m := range AllModes {
		if _, ok := r.specs[m]; ok {
			modes = append(modes, m)
		}
	}
	return modes
}
