package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"ap-tee-studio/internal/domain"
)

// DesignSource は出品対象デザインの取得に必要な操作だけを宣言します。
type DesignSource interface {
	Get(ctx context.Context, designID string) (domain.Design, error)
	OpenImage(ctx context.Context, d domain.Design) (io.ReadCloser, error)
}

// ArtworkVendor は印刷ベンダーへの入稿操作を宣言します。
type ArtworkVendor interface {
	UploadArtwork(ctx context.Context, filename string, r io.Reader) (string, error)
	CreateProduct(ctx context.Context, artworkID, title, garmentColor string) (PrintProduct, error)
}

// Storefront はストアフロントへの公開操作を宣言します。
type Storefront interface {
	PublishProduct(ctx context.Context, product PrintProduct, title string) (string, error)
}

// Notifier は出品結果の通知を宣言します。
type Notifier interface {
	Notify(ctx context.Context, productURL, storageURI string, req domain.NotificationRequest) error
	NotifyError(ctx context.Context, errDetail error, req domain.NotificationRequest) error
}

// Pipeline はデザイン取得から出品完了通知までの一連の処理を実行します。
type Pipeline struct {
	designs    DesignSource
	vendor     ArtworkVendor
	storefront Storefront
	notifier   Notifier
}

func NewPipeline(designs DesignSource, vendor ArtworkVendor, storefront Storefront, notifier Notifier) *Pipeline {
	return &Pipeline{
		designs:    designs,
		vendor:     vendor,
		storefront: storefront,
		notifier:   notifier,
	}
}

// Execute は出品パイプラインを実行し、公開された商品の情報を返します。
// ワーカーから呼ばれ、エラーを返すとタスクはキューによって再試行されます。
func (p *Pipeline) Execute(ctx context.Context, payload domain.PublishTaskPayload) (result domain.PublishResult, err error) {
	slog.Info("Publish pipeline started",
		"design_id", payload.DesignID,
		"garment_color", payload.GarmentColor,
	)

	notifyReq := domain.NotificationRequest{
		OutputCategory: "tee-product",
		TargetTitle:    payload.DesignID,
		RequestedBy:    payload.RequestedBy,
		SourcePrompt:   domain.CategoryNotAvailable,
	}

	// 失敗時の通知を defer 文で一括管理します。
	defer func() {
		if err != nil {
			if notifyErr := p.notifier.NotifyError(ctx, err, notifyReq); notifyErr != nil {
				slog.ErrorContext(ctx, "Error notification failed", "error", notifyErr)
			}
		}
	}()

	design, err := p.designs.Get(ctx, payload.DesignID)
	if err != nil {
		return result, fmt.Errorf("design lookup failed: %w", err)
	}

	title := design.Title
	if title == "" {
		title = design.ID
	}
	notifyReq.TargetTitle = title
	notifyReq.SourcePrompt = design.Prompt

	// --- Phase 1: 入稿 ---
	rc, err := p.designs.OpenImage(ctx, design)
	if err != nil {
		return result, fmt.Errorf("artwork open failed: %w", err)
	}
	defer rc.Close()

	artworkID, err := p.vendor.UploadArtwork(ctx, design.ID+".png", rc)
	if err != nil {
		return result, fmt.Errorf("artwork upload failed: %w", err)
	}
	slog.Info("Artwork uploaded", "design_id", design.ID, "artwork_id", artworkID)

	// --- Phase 2: 商品作成 ---
	product, err := p.vendor.CreateProduct(ctx, artworkID, title, payload.GarmentColor)
	if err != nil {
		return result, fmt.Errorf("product creation failed: %w", err)
	}
	slog.Info("Vendor product created", "product_id", product.ID)

	// --- Phase 3: ストアフロント公開 ---
	productURL, err := p.storefront.PublishProduct(ctx, product, title)
	if err != nil {
		return result, fmt.Errorf("storefront publish failed: %w", err)
	}
	result = domain.PublishResult{
		ProductID:  product.ID,
		ProductURL: productURL,
	}

	slog.Info("Publish pipeline finished",
		"design_id", design.ID,
		"product_url", productURL,
	)

	// 通知処理自体の失敗は、パイプライン全体の成否には影響させません。
	if notifyErr := p.notifier.Notify(ctx, productURL, design.ImagePath, notifyReq); notifyErr != nil {
		slog.ErrorContext(ctx, "Notification failed", "error", notifyErr)
	}

	return result, nil
}
