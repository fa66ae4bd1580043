// Package builder はアプリケーションの依存関係をすべて組み立てるのだ。
package builder

import (
	"context"
	"fmt"

	"ap-tee-studio/internal/adapters"
	"ap-tee-studio/internal/config"
	"ap-tee-studio/internal/controllers/web"
	"ap-tee-studio/internal/domain"
	"ap-tee-studio/internal/imagegen"
	"ap-tee-studio/internal/publish"
	"ap-tee-studio/internal/store"
	"ap-tee-studio/internal/studio"

	"github.com/shouni/go-http-kit/pkg/httpkit"
)

// AppContext はリクエスト処理で共有される長寿命の依存関係を保持します。
type AppContext struct {
	Config       *config.Config
	RemoteIO     *RemoteIO
	Store        *store.DesignStore
	ImageClient  *imagegen.Client
	Broker       *web.Broker
	Orchestrator *studio.Orchestrator
	Slack        *adapters.SlackAdapter
	Pipeline     *publish.Pipeline
}

// BuildAppContext は外部サービスとの接続を確立し、依存関係を組み立てます。
func BuildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	// 1. 基盤クライアントの初期化
	httpClient := httpkit.New(config.DefaultHTTPTimeout)

	// 2. I/O インフラ (GCS等) の初期化
	rio, err := buildRemoteIO(ctx)
	if err != nil {
		return nil, err
	}

	designStore := store.NewDesignStore(rio.Reader, rio.Writer, rio.Signer, cfg)

	// 3. 画像生成プロバイダと生成オーケストレーターの初期化
	imageClient := imagegen.NewClient(cfg.ImageAPIURL, cfg.ImageAPIKey, cfg.ImageStandardModel)
	broker := web.NewBroker()

	orchestrator := studio.New(
		imageClient,
		studio.NewQualityPolicy(cfg),
		buildStudioHooks(broker, designStore),
		studio.Options{
			ImageSize:     cfg.ImageSize,
			StreamTimeout: cfg.StreamTimeout,
		},
	)

	// 4. アダプターと出品パイプラインの初期化
	slack, err := adapters.NewSlackAdapter(httpClient, cfg.SlackWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Slack adapter: %w", err)
	}

	vendor := publish.NewVendorClient(cfg.PrintVendorURL, cfg.PrintVendorKey)
	storefront := publish.NewStorefrontClient(cfg.StorefrontURL, cfg.StorefrontToken)
	pipeline := publish.NewPipeline(designStore, vendor, storefront, slack)

	return &AppContext{
		Config:       cfg,
		RemoteIO:     rio,
		Store:        designStore,
		ImageClient:  imageClient,
		Broker:       broker,
		Orchestrator: orchestrator,
		Slack:        slack,
		Pipeline:     pipeline,
	}, nil
}

// buildStudioHooks は生成セッションのフックをUIイベント配信と永続化へ
// 接続します。
func buildStudioHooks(broker *web.Broker, designStore *store.DesignStore) studio.Hooks {
	return studio.Hooks{
		OnBusyChange: func(busy bool) {
			broker.Publish("busy", map[string]bool{"busy": busy})
		},
		OnPreviewReady: func() {
			broker.Publish("preview", struct{}{})
		},
		OnPartial: func(a domain.Artifact) {
			broker.Publish("partial", a)
		},
		OnFinal: func(a domain.Artifact) {
			broker.Publish("final", a)
		},
		OnSaved: func(a domain.Artifact) {
			broker.Publish("saved", a)
		},
		OnDiscard: func() {
			broker.Publish("discard", struct{}{})
		},
		OnError: func(message string) {
			broker.Publish("error", map[string]string{"message": message})
		},
		OnBalanceRequired: func() {
			broker.Publish("balance_required", struct{}{})
		},
		Persist:     designStore.Save,
		UpdateTitle: designStore.UpdateTitle,
	}
}
