package domain

import "time"

// QualityTier はユーザーが選択する生成品質の区分です。
// 具体的なモデル名やパラメータへの変換は studio.QualityPolicy が担います。
type QualityTier string

const (
	TierLow    QualityTier = "low"
	TierMedium QualityTier = "medium"
	TierHigh   QualityTier = "high"
)

// Valid は入力境界（フォーム等）で使用する妥当性チェックです。
// 未知の Tier を内部に持ち込むのはプログラミングエラーとして扱います。
func (t QualityTier) Valid() bool {
	switch t {
	case TierLow, TierMedium, TierHigh:
		return true
	}
	return false
}

// GenerateRequest は1回の生成・編集アクションを表す不変のリクエストです。
// Orchestrator がちょうど1本のストリームを開くために消費します。
type GenerateRequest struct {
	// Prompt は合成済みの最終プロンプトです。空であってはなりません。
	Prompt string
	// ConditioningImages は任意の参照画像 (Base64 PNG) です。
	ConditioningImages []string
	// Tier は QualityPolicy 経由でモデル・パラメータを決定します。
	Tier QualityTier
	// ContinuationID が設定されている場合、過去の生成結果に対する編集です。
	ContinuationID string
}

// Artifact は下流（UI・永続化・3Dプレビュー）へ引き渡す画像成果物のスナップショットです。
// 受け取り側は変更してはならず、毎回新しい値として配布されます。
type Artifact struct {
	Prompt        string    `json:"prompt"`
	ImageURL      string    `json:"image_url"` // data URL または署名付きURL
	GeneratedAt   time.Time `json:"generated_at"`
	IsPartial     bool      `json:"is_partial"`
	SequenceIndex int       `json:"sequence_index"`
	ResponseID    string    `json:"response_id,omitempty"`
	DesignID      string    `json:"design_id,omitempty"`
}
