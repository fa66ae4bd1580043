package domain

// PublishTaskPayload は、Cloud Tasks経由で渡される商品化指示を表します。
type PublishTaskPayload struct {
	// DesignID は公開対象の保存済みデザインIDです。
	DesignID string `json:"design_id"`
	// GarmentColor は印刷対象ガーメントの色です。(例: "white", "black")
	GarmentColor string `json:"garment_color"`
	// RequestedBy は操作したユーザーのメールアドレスです。通知に使用します。
	RequestedBy string `json:"requested_by"`
}

// PublishResult は Print-on-Demand / ストアフロント連携の最終成果です。
type PublishResult struct {
	ProductID  string `json:"product_id"`
	ProductURL string `json:"product_url"`
}
