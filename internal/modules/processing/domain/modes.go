package domain

import (
	"fmt"
	"math"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"evimai-api/internal/domain/service"
)

const (
	// stagingEstimatedCost 家具設置の概算費用（TRY）
	stagingEstimatedCost = 35000
	// stagingROIIncrease ホームステージングによる価値上昇率（%）
	stagingROIIncrease = 23

	// estimateBaseValuePerSqm 査定の基準単価（TRY/m2）
	estimateBaseValuePerSqm = 25000
	// estimateAssumedAreaSqm 査定で仮定する床面積
	estimateAssumedAreaSqm = 100
	estimateBaseQuality    = 50
	estimateBrightnessGood = 0.6

	renovationConfidence = 0.8
	// renovationCostPerDay 1日あたりの施工規模（TRY）
	renovationCostPerDay = 10000
)

var redesignPrompts = map[string]string{
	"modern":     "Transform this room into a modern minimalist interior design with clean lines, neutral colors, contemporary furniture, professional lighting",
	"classic":    "Redesign this room with classic luxury interior, elegant furniture, warm colors, traditional style, high-end decor",
	"industrial": "Convert this room to industrial loft style with exposed elements, metal accents, urban design, concrete finishes",
	"bohemian":   "Transform this room into bohemian eclectic interior with colorful patterns, mixed textures, artistic decor, vintage elements",
}

var redesignFeatures = map[string][]string{
	"modern":     {"Minimalist mobilya", "Nötr renk paleti", "Profesyonel aydınlatma"},
	"classic":    {"Klasik mobilya", "Sıcak renkler", "Lüks dekor"},
	"industrial": {"Metal detaylar", "Beton dokular", "Açık tesisat"},
	"bohemian":   {"Renkli desenler", "Karışık dokular", "Vintage öğeler"},
}

const (
	stagingPromptImage = "Add modern furniture to this empty room: contemporary sofa, coffee table, floor lamp, wall art, plants, warm lighting, professional real estate photography style"
	stagingPromptText  = "Empty room professionally staged with modern furniture, warm lighting, elegant decor, real estate photography style, high quality"
	estimatePrompt     = "professional real estate photography, bright interior, clean modern design, high-end finishes"
	renovationPrompt   = "renovated modern interior, fresh paint, new flooring, updated lighting, professional renovation, photorealistic"
)

var stagingFurniture = []string{"Modern kanepe", "Sehpa", "Lambader", "Duvar sanatı", "Bitkiler"}

// renovationItem リノベーション見積もりの項目
type renovationItem struct {
	Item     string
	Cost     int
	Priority string
}

var renovationItems = []renovationItem{
	{Item: "Duvar boyası", Cost: 8000, Priority: "high"},
	{Item: "Zemin değişimi", Cost: 25000, Priority: "medium"},
	{Item: "Elektrik tesisatı", Cost: 12000, Priority: "high"},
	{Item: "Banyo yenileme", Cost: 35000, Priority: "low"},
}

var imageToImageParams = GenerationParams{
	Strength:          0.8,
	GuidanceScale:     3.5,
	ImageToImageSteps: 28,
	TextToImageSteps:  4,
	ImageSize:         "landscape_4_3",
}

func methodConfidence(method InputMethod) float64 {
	if method == InputImageToImage {
		return 0.95
	}
	return 0.85
}

// styleTitle スタイル名を表示用に先頭大文字化（Caserは状態を持つため呼び出しごとに作成）
func styleTitle(style string) string {
	return cases.Title(language.Und).String(style)
}

func redesignSpec() ModeSpec {
	return ModeSpec{
		Mode:         ModeRedesign,
		UsesImage:    true,
		Styles:       []string{"modern", "classic", "industrial", "bohemian"},
		DefaultStyle: "modern",
		Params:       imageToImageParams,
		Prompt: func(style string, _ InputMethod) string {
			if p, ok := redesignPrompts[style]; ok {
				return p
			}
			return redesignPrompts["modern"]
		},
		Shape: func(in ShapeInput) Shaped {
			features := redesignFeatures[in.Style]
			if features == nil {
				features = redesignFeatures["modern"]
			}
			return Shaped{
				ConfidenceScore: methodConfidence(in.Method),
				Features:        append([]string(nil), features...),
				Description:     fmt.Sprintf("Oda %s tarzında yeniden tasarlandı", styleTitle(in.Style)),
				StructuredData: map[string]any{
					"generated_image": in.ProcessedImageRef,
					"style":           in.Style,
					"features":        append([]string(nil), features...),
					"original_prompt": in.Prompt,
					"input_method":    string(in.Method),
				},
			}
		},
	}
}

func stagingSpec() ModeSpec {
	params := imageToImageParams
	params.Strength = 0.7
	params.GuidanceScale = 4.0

	return ModeSpec{
		Mode:         ModeStaging,
		UsesImage:    true,
		DefaultStyle: "modern",
		Params:       params,
		Prompt: func(_ string, method InputMethod) string {
			if method == InputImageToImage {
				return stagingPromptImage
			}
			return stagingPromptText
		},
		Shape: func(in ShapeInput) Shaped {
			return Shaped{
				ConfidenceScore: methodConfidence(in.Method),
				Features:        append([]string(nil), stagingFurniture...),
				Description:     "Boş oda profesyonel olarak döşendi",
				StructuredData: map[string]any{
					"staged_room":     in.ProcessedImageRef,
					"furniture_added": append([]string(nil), stagingFurniture...),
					"estimated_cost":  stagingEstimatedCost,
					"currency":        "TRY",
					"roi_increase":    fmt.Sprintf("%d%%", stagingROIIncrease),
					"input_method":    string(in.Method),
				},
			}
		},
	}
}

func estimateSpec() ModeSpec {
	return ModeSpec{
		Mode:         ModeEstimate,
		UsesImage:    false,
		DefaultStyle: "modern",
		Params:       imageToImageParams,
		Prompt: func(string, InputMethod) string {
			return estimatePrompt
		},
		Shape: shapeEstimate,
	}
}

// shapeEstimate 画像の明るさに基づく簡易査定（同じ画像なら常に同じ結果）
func shapeEstimate(in ShapeInput) Shaped {
	quality := estimateBaseQuality
	confidence := 0.65
	positive := []string{"Geliştirilebilir alan"}
	negative := []string{"Görsel analizi yapılamadı"}

	if in.Image.HasData() {
		if brightness, err := service.MeanBrightness(in.Image.Data); err == nil {
			confidence = 0.85
			if brightness > estimateBrightnessGood {
				quality += 10
				positive = []string{"Aydınlık iç mekan", "Modern tasarım potansiyeli"}
				negative = []string{}
			} else {
				quality -= 5
				negative = []string{"Yetersiz aydınlatma"}
			}
		}
	}

	valuePerSqm := int(math.Round(estimateBaseValuePerSqm * (1 + float64(quality-estimateBaseQuality)/100)))
	estimated := valuePerSqm * estimateAssumedAreaSqm

	return Shaped{
		ConfidenceScore: confidence,
		Features:        append([]string(nil), positive...),
		Description:     fmt.Sprintf("Tahmini değer: %d TRY", estimated),
		StructuredData: map[string]any{
			"estimated_value": estimated,
			"value_per_sqm":   valuePerSqm,
			"area_sqm":        estimateAssumedAreaSqm,
			"currency":        "TRY",
			"confidence":      confidence,
			"quality_score":   quality,
			"factors": map[string]any{
				"positive":     positive,
				"negative":     negative,
				"market_trend": "stable",
			},
			"reference_image": in.ProcessedImageRef,
		},
	}
}

func renovationSpec() ModeSpec {
	return ModeSpec{
		Mode:         ModeRenovation,
		UsesImage:    false,
		DefaultStyle: "modern",
		Params:       imageToImageParams,
		Prompt: func(string, InputMethod) string {
			return renovationPrompt
		},
		Shape: shapeRenovation,
	}
}

func shapeRenovation(in ShapeInput) Shaped {
	total := 0
	breakdown := make([]any, 0, len(renovationItems))
	urgent := make([]string, 0)
	for _, item := range renovationItems {
		total += item.Cost
		breakdown = append(breakdown, map[string]any{
			"item":     item.Item,
			"cost":     item.Cost,
			"priority": item.Priority,
		})
		if item.Priority == "high" {
			urgent = append(urgent, item.Item)
		}
	}

	days := int(math.Ceil(float64(total)/renovationCostPerDay)) * 2

	return Shaped{
		ConfidenceScore: renovationConfidence,
		Features:        append([]string(nil), urgent...),
		Description:     fmt.Sprintf("Toplam renovasyon maliyeti: %d TRY", total),
		StructuredData: map[string]any{
			"total_cost":         total,
			"currency":           "TRY",
			"breakdown":          breakdown,
			"urgent_items":       urgent,
			"timeline":           days,
			"estimated_duration": fmt.Sprintf("%d gün", days),
			"renovated_preview":  in.ProcessedImageRef,
		},
	}
}
