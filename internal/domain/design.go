package domain

import "time"

// Design は保存済みのTシャツデザイン1件のメタデータです。
// 画像本体はオブジェクトストレージに置き、ここにはパスのみ保持します。
type Design struct {
	ID string `json:"id"`
	// Title は生成後にバックグラウンドで付与される表示用タイトルです。
	// タイトル生成が失敗した場合は空のままになります。
	Title      string    `json:"title,omitempty"`
	Prompt     string    `json:"prompt"`
	ResponseID string    `json:"response_id,omitempty"`
	ImagePath  string    `json:"image_path"` // gs://... 形式
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
