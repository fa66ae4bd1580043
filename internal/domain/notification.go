package domain

const CategoryNotAvailable = "N/A"

// NotificationRequest は Slack 等の通知コンポーネントで共有されるデータ構造です。
// 公開されたデザインのメタデータを通知先に伝えるために使用します。
type NotificationRequest struct {
	// SourcePrompt は、デザインの元になったプロンプトです。
	SourcePrompt string `json:"source_prompt"`

	// OutputCategory は、通知の種別です。(例: "product-published", "error-report")
	OutputCategory string `json:"output_category"`

	// TargetTitle は、デザインの表示タイトルです。
	TargetTitle string `json:"target_title"`

	// RequestedBy は、操作を行ったユーザーです。
	RequestedBy string `json:"requested_by"`
}
