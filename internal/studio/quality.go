package studio

import (
	"fmt"

	"ap-tee-studio/internal/config"
	"ap-tee-studio/internal/domain"
)

// TierParams は品質Tierから導出されるプロバイダ向けの具体的パラメータです。
type TierParams struct {
	// Model は使用する画像生成モデルの識別子です。
	Model string
	// PartialImages はストリーム中に配信される部分画像の枚数です。
	PartialImages int
	// Fidelity はプロバイダの quality フィールドに渡すラベルです。
	Fidelity string
}

// QualityPolicy は品質Tierとパラメータの固定対応表です。純粋・状態なしの
// 対応表であり、Tierの検証は境界 (フォーム) 側で済んでいる前提です。
type QualityPolicy struct {
	tiers map[domain.QualityTier]TierParams
}

// NewQualityPolicy は設定のモデル名を対応表へ束ねます。
func NewQualityPolicy(cfg *config.Config) *QualityPolicy {
	return &QualityPolicy{
		tiers: map[domain.QualityTier]TierParams{
			domain.TierLow:    {Model: cfg.ImageFastModel, PartialImages: 1, Fidelity: "low"},
			domain.TierMedium: {Model: cfg.ImageStandardModel, PartialImages: 2, Fidelity: "medium"},
			domain.TierHigh:   {Model: cfg.ImageQualityModel, PartialImages: 3, Fidelity: "high"},
		},
	}
}

// ParamsFor は指定Tierのパラメータを返します。未知のTierは境界の
// バリデーション漏れ、すなわちプログラミングエラーなのでパニックします。
func (p *QualityPolicy) ParamsFor(tier domain.QualityTier) TierParams {
	params, ok := p.tiers[tier]
	if !ok {
		panic(fmt.Sprintf("studio: unknown quality tier %q", tier))
	}
	return params
}
