package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ap-tee-studio/internal/domain"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-notifier/pkg/factory"
	"github.com/shouni/go-notifier/pkg/slack"
)

// --- インターフェース定義 ---

type SlackNotifier interface {
	Notify(ctx context.Context, productURL, storageURI string, req domain.NotificationRequest) error
	NotifyError(ctx context.Context, errDetail error, req domain.NotificationRequest) error
}

// --- 具象アダプター ---

type SlackAdapter struct {
	httpClient  httpkit.ClientInterface
	webhookURL  string
	slackClient *slack.Client
}

// NewSlackAdapter は Slack 通知アダプターを初期化します。
// webhookURL が空の場合、通知は黙ってスキップされます (ローカル実行向け)。
func NewSlackAdapter(httpClient httpkit.ClientInterface, webhookURL string) (*SlackAdapter, error) {
	if webhookURL == "" {
		return &SlackAdapter{webhookURL: webhookURL}, nil
	}
	client, err := factory.GetSlackClient(httpClient)
	if err != nil {
		return nil, fmt.Errorf("Slackクライアントの初期化に失敗したのだ: %w", err)
	}

	return &SlackAdapter{
		httpClient:  httpClient,
		webhookURL:  webhookURL,
		slackClient: client,
	}, nil
}

// Notify 商品URLとストレージ情報を含む、出品完了時のSlack通知送信。
func (a *SlackAdapter) Notify(ctx context.Context, productURL, storageURI string, req domain.NotificationRequest) error {
	if a.slackClient == nil {
		slog.Info("Slackクライアントが初期化されていないため、通知をスキップします。", "storage_uri", storageURI)
		return nil
	}

	// カテゴリに応じた絵文字の出し分けをすると可愛いのだ！
	icon := "👕"
	if req.OutputCategory == "design-image" {
		icon = "🎨"
	}

	title := fmt.Sprintf("%s Tシャツの出品が完了しました！", icon)
	content := a.buildSlackContent(productURL, storageURI, req)

	if err := a.slackClient.SendTextWithHeader(ctx, title, content); err != nil {
		return fmt.Errorf("Slackへの投稿に失敗しました: %w", err)
	}

	slog.Info("Slack に完了通知を送信しました。", "product_url", productURL)
	return nil
}

// NotifyError エラー詳細と実行メタデータを含むSlackエラー通知の送信。
func (a *SlackAdapter) NotifyError(ctx context.Context, errDetail error, req domain.NotificationRequest) error {
	if a.slackClient == nil {
		slog.Info("Slackクライアントが初期化されていないため、エラー通知をスキップします。", "error", errDetail)
		return nil
	}

	title := "❌ 出品処理中にエラーが発生しました"

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*デザイン:* `%s`\n", req.TargetTitle))
	sb.WriteString(fmt.Sprintf("*依頼者:* `%s`\n", req.RequestedBy))
	sb.WriteString(fmt.Sprintf("*プロンプト:* %s\n\n", req.SourcePrompt))

	// エラー詳細をコードブロックで囲むことで可読性を向上させます。
	sb.WriteString("*エラー内容:*\n")
	sb.WriteString(fmt.Sprintf("```\n%v\n```\n", errDetail))

	if req.OutputCategory != "" && req.OutputCategory != domain.CategoryNotAvailable {
		sb.WriteString(fmt.Sprintf("\n📍 *カテゴリ:* `%s`", req.OutputCategory))
	}

	content := sb.String()

	if err := a.slackClient.SendTextWithHeader(ctx, title, content); err != nil {
		return fmt.Errorf("Slackへのエラー通知に失敗しました: %w", err)
	}

	slog.Info("Slack にエラー通知を送信しました。", "error", errDetail)
	return nil
}

// buildSlackContent 商品URL、ストレージURI、通知リクエストに基づき、Slack メッセージの内容を生成します。
func (a *SlackAdapter) buildSlackContent(productURL, storageURI string, req domain.NotificationRequest) string {
	// GCS Console URL の構築
	consoleURL := "https://console.cloud.google.com/storage/browser/" + strings.TrimPrefix(storageURI, "gs://")

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**デザイン:** `%s`\n", req.TargetTitle))
	sb.WriteString(fmt.Sprintf("**依頼者:** `%s`\n", req.RequestedBy))
	sb.WriteString(fmt.Sprintf("**プロンプト:** %s\n\n", req.SourcePrompt))

	// 商品リンク（productURLがある場合のみ）
	if productURL != "" && productURL != domain.CategoryNotAvailable {
		sb.WriteString(fmt.Sprintf("🛒 **商品ページ:** <%s|ここから確認するのだ！>\n", productURL))
	}

	// 管理用リンク
	sb.WriteString(fmt.Sprintf("📂 **管理者(Console):** <%s|GCSで直接見るのだ！>\n", consoleURL))
	sb.WriteString(fmt.Sprintf("📍 **保存場所(URI):** `%s`\n", storageURI))

	return sb.String()
}
