package builder

import (
	"fmt"
	"net/http"
	"net/url"

	"ap-tee-studio/internal/adapters"
	"ap-tee-studio/internal/config"
	"ap-tee-studio/internal/controllers/auth"
	"ap-tee-studio/internal/controllers/web"
	"ap-tee-studio/internal/controllers/worker"
	"ap-tee-studio/internal/prompt"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewServerHandler は HTTP ルーティング、認証、各ハンドラーの依存関係をすべて組み立てるのだ。
func NewServerHandler(
	appCtx *AppContext,
	taskAdapter adapters.TaskAdapter,
) (http.Handler, error) {
	cfg := appCtx.Config

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 1. Auth Handler の初期化 ---
	redirectURL, err := url.JoinPath(cfg.ServiceURL, "/auth/callback")
	if err != nil {
		return nil, fmt.Errorf("failed to build auth redirect URL: %w", err)
	}

	authHandler := auth.NewHandler(auth.AuthConfig{
		RedirectURL:     redirectURL,
		TaskAudienceURL: cfg.TaskAudienceURL,
		ClientID:        cfg.GoogleClientID,
		ClientSecret:    cfg.GoogleClientSecret,
		SessionKey:      cfg.SessionSecret,
		IsSecureCookie:  config.IsSecureURL(cfg.ServiceURL),
		AllowedEmails:   cfg.AllowedEmails,
		AllowedDomains:  cfg.AllowedDomains,
	})

	// --- 2. Web Handler (UI) の初期化 ---
	webHandler, err := web.NewHandler(
		cfg,
		appCtx.Store,
		appCtx.Orchestrator,
		prompt.NewComposer(cfg.StyleSuffix),
		taskAdapter,
		authHandler,
		appCtx.Broker,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize web handler: %w", err)
	}

	// --- 3. Worker Handler の初期化 ---
	workerHandler := worker.NewHandler(appCtx.Pipeline)

	// --- 4. 公開ルート ---
	r.Get("/auth/login", authHandler.Login)
	r.Get("/auth/callback", authHandler.Callback)
	r.Get("/auth/logout", authHandler.Logout)

	// --- 5. 認証が必要なルート (Web UI 用) ---
	r.Group(func(r chi.Router) {
		r.Use(authHandler.Middleware)

		r.Get("/", webHandler.Index) // デザインスタジオ (main)

		// 生成セッション。POST で開始し、進捗は SSE で受け取るのだ
		r.Post("/generate", webHandler.HandleGenerate)
		r.Get("/generate/events", webHandler.Events)

		// デザイン履歴
		r.Get("/designs", webHandler.ListDesigns)
		r.Get("/designs/{id}", webHandler.ShowDesign)
		r.Post("/designs/{id}/edit", webHandler.HandleEdit)
		r.Post("/designs/{id}/publish", webHandler.HandlePublish)
	})

	// --- 6. Cloud Tasks 専用ルート (Worker 用) ---
	r.Group(func(r chi.Router) {
		r.Use(authHandler.TaskOIDCVerificationMiddleware)
		r.Post("/tasks/publish", workerHandler.PublishTask)
	})

	return r, nil
}
