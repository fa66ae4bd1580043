package config

import (
	"os"
	"path"
	"strings"
	"time"
)

const (
	// SignedURLExpiration 生成されたデザインを確認する時間を考慮した有効期限
	SignedURLExpiration = 5 * time.Minute
	// DefaultImageAPIURL 画像生成プロバイダのストリーミングエンドポイント
	DefaultImageAPIURL = "https://api.openai.com/v1/responses"
	// 品質Tierごとの既定モデル。low は速度優先、high は品質優先です。
	DefaultImageFastModel     = "gpt-image-1-mini"
	DefaultImageStandardModel = "gpt-image-1"
	DefaultImageQualityModel  = "gpt-image-1"
	// DefaultStreamTimeout ストリームが完了しないまま放置されるのを防ぐ上限
	DefaultStreamTimeout = 120 * time.Second
	// DefaultHTTPTimeout Slack や Print-on-Demand API の応答を考慮したタイムアウト
	DefaultHTTPTimeout = 60 * time.Second
	// DefaultImageSize Tシャツ印刷用の正方形キャンバス
	DefaultImageSize = "1024x1024"
	// DefaultMaxHistory デザイン履歴として保持する最大件数
	DefaultMaxHistory = 50
	DefaultStyleSuffix = "flat vector illustration, bold shapes, screen-print friendly, limited color palette, high contrast, centered composition, no background, print-ready, high resolution"
)

// Config は環境変数から読み込まれたアプリケーションの全設定を保持します。
type Config struct {
	ServiceURL          string
	Port                string
	ProjectID           string
	LocationID          string
	QueueID             string
	TaskAudienceURL     string // OIDC トークンの検証に使用する Audience URL
	ServiceAccountEmail string
	GCSBucket           string // デザイン画像とメタデータを保存するバケット
	BaseOutputDir       string // GCS内のベースルート (例: "designs")
	SignedURLExpiration time.Duration
	SlackWebhookURL     string
	ShutdownTimeout     time.Duration

	// Image Generation Provider
	ImageAPIURL        string
	ImageAPIKey        string
	ImageFastModel     string // 低品質・高速
	ImageStandardModel string // 標準
	ImageQualityModel  string // 高品質・高忠実度
	StreamTimeout      time.Duration
	ImageSize          string
	StyleSuffix        string

	// Print-on-Demand & Storefront
	PrintVendorURL   string
	PrintVendorKey   string
	StorefrontURL    string
	StorefrontToken  string

	TemplateDir string // HTMLテンプレートの格納ディレクトリ
	MaxHistory  int    // デザイン履歴の保持上限

	// OAuth & Session Settings
	GoogleClientID     string
	GoogleClientSecret string
	// SessionSecret はセッションデータのHMAC署名用シークレットキーです。
	SessionSecret string

	// Authz Settings
	AllowedEmails  []string
	AllowedDomains []string
}

// LoadConfig は環境変数から設定を読み込み、Config 構造体を生成します。
func LoadConfig() *Config {
	serviceURL := getEnv("SERVICE_URL", "http://localhost:8080")
	allowedEmails := getEnv("ALLOWED_EMAILS", "")
	allowedDomains := getEnv("ALLOWED_DOMAINS", "")

	// 実行環境（Cloud Run, ko）に応じたパスの解決
	baseDir := "."
	if os.Getenv("KO_DATA_PATH") != "" || os.Getenv("K_SERVICE") != "" {
		baseDir = "/app"
	}

	return &Config{
		ServiceURL:          serviceURL,
		Port:                getEnv("PORT", "8080"),
		ProjectID:           getEnv("GCP_PROJECT_ID", "your-gcp-project"),
		LocationID:          getEnv("GCP_LOCATION_ID", "asia-northeast1"),
		QueueID:             getEnv("CLOUD_TASKS_QUEUE_ID", "tee-publish-queue"),
		TaskAudienceURL:     getEnv("TASK_AUDIENCE_URL", serviceURL),
		ServiceAccountEmail: getEnv("SERVICE_ACCOUNT_EMAIL", ""),
		GCSBucket:           getEnv("GCS_DESIGN_BUCKET", "your-design-archive-bucket"),
		BaseOutputDir:       getEnv("BASE_OUTPUT_DIR", "designs"),
		SignedURLExpiration: SignedURLExpiration,
		SlackWebhookURL:     getEnv("SLACK_WEBHOOK_URL", ""),
		ShutdownTimeout:     15 * time.Second,

		ImageAPIURL:        getEnv("IMAGE_API_URL", DefaultImageAPIURL),
		ImageAPIKey:        getEnv("IMAGE_API_KEY", ""),
		ImageFastModel:     getEnv("IMAGE_FAST_MODEL", DefaultImageFastModel),
		ImageStandardModel: getEnv("IMAGE_MODEL", DefaultImageStandardModel),
		ImageQualityModel:  getEnv("IMAGE_QUALITY_MODEL", DefaultImageQualityModel),
		StreamTimeout:      DefaultStreamTimeout,
		ImageSize:          getEnv("IMAGE_SIZE", DefaultImageSize),
		StyleSuffix:        getEnv("STYLE_SUFFIX", DefaultStyleSuffix),

		PrintVendorURL:  getEnv("PRINT_VENDOR_URL", ""),
		PrintVendorKey:  getEnv("PRINT_VENDOR_KEY", ""),
		StorefrontURL:   getEnv("STOREFRONT_URL", ""),
		StorefrontToken: getEnv("STOREFRONT_TOKEN", ""),

		TemplateDir: path.Join(baseDir, "templates"),
		MaxHistory:  DefaultMaxHistory,

		// OAuth & Session
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		SessionSecret:      getEnv("SESSION_SECRET", ""),

		AllowedEmails:  parseCommaSeparatedList(allowedEmails),
		AllowedDomains: parseCommaSeparatedList(allowedDomains),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseCommaSeparatedList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
