// Package web はスタジオ画面とデザイン一覧のHTTPハンドラー群です。
package web

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"ap-tee-studio/internal/config"
	"ap-tee-studio/internal/domain"
)

const titleSuffix = " - AP Tee Studio"

// DesignStore はハンドラーが必要とするデザイン永続層の操作です。
type DesignStore interface {
	List(ctx context.Context) ([]domain.Design, error)
	Get(ctx context.Context, designID string) (domain.Design, error)
	SignedImageURL(ctx context.Context, d domain.Design) (string, error)
}

// Generator は生成セッションの開始操作です。結果はSSE経由で配送されます。
type Generator interface {
	Generate(ctx context.Context, prompt string, conditioningImages []string, tier domain.QualityTier)
	Edit(ctx context.Context, prompt, priorResponseID string, tier domain.QualityTier, designID string)
}

// TaskEnqueuer は出品タスクの投入操作です。
type TaskEnqueuer interface {
	EnqueuePublishTask(ctx context.Context, payload domain.PublishTaskPayload) error
}

// UserResolver はリクエストからログイン中ユーザーを解決します。
type UserResolver interface {
	CurrentUser(r *http.Request) string
}

// PromptComposer はユーザー入力とスタイル修飾子を結合します。
type PromptComposer interface {
	Compose(userText, style, theme string) string
}

type Handler struct {
	cfg           *config.Config
	templateCache map[string]*template.Template
	store         DesignStore
	generator     Generator
	composer      PromptComposer
	enqueuer      TaskEnqueuer
	users         UserResolver
	broker        *Broker
}

// NewHandler は指定された構成に基づいて新しいハンドラーを初期化します。
// テンプレートをコンパイルし、レイアウトファイルが存在することを確認します。
func NewHandler(
	cfg *config.Config,
	store DesignStore,
	generator Generator,
	composer PromptComposer,
	enqueuer TaskEnqueuer,
	users UserResolver,
	broker *Broker,
) (*Handler, error) {
	cache := make(map[string]*template.Template)
	layoutPath := filepath.Join(cfg.TemplateDir, "layout.html")
	if _, err := os.Stat(layoutPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("レイアウトテンプレートが見つかりません: %s", layoutPath)
	}

	pagePaths, err := filepath.Glob(filepath.Join(cfg.TemplateDir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("ページテンプレートの検索に失敗しました: %w", err)
	}

	funcMap := template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}

	for _, pagePath := range pagePaths {
		pageName := filepath.Base(pagePath)
		if pageName == "layout.html" {
			continue
		}

		tmpl := template.New(pageName).Funcs(funcMap)
		tmpl, err = tmpl.ParseFiles(layoutPath, pagePath)
		if err != nil {
			return nil, fmt.Errorf("テンプレート %s の解析に失敗しました: %w", pageName, err)
		}
		cache[pageName] = tmpl
	}

	return &Handler{
		cfg:           cfg,
		templateCache: cache,
		store:         store,
		generator:     generator,
		composer:      composer,
		enqueuer:      enqueuer,
		users:         users,
		broker:        broker,
	}, nil
}
