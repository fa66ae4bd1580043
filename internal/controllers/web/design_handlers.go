package web

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ap-tee-studio/internal/domain"
)

// DesignListItem は一覧画面の1件分のビューモデルです。
type DesignListItem struct {
	Design   domain.Design
	ImageURL string
}

// ListDesigns は保存済みデザインの一覧を表示します。
func (h *Handler) ListDesigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	designs, err := h.store.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "デザイン一覧の取得に失敗しました", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	items := make([]DesignListItem, 0, len(designs))
	for _, d := range designs {
		item := DesignListItem{Design: d}
		// 署名に失敗した個別画像はプレースホルダ表示になります。
		if url, err := h.store.SignedImageURL(ctx, d); err == nil {
			item.ImageURL = url
		} else {
			slog.WarnContext(ctx, "署名付きURLの発行に失敗しました", "design_id", d.ID, "error", err)
		}
		items = append(items, item)
	}

	h.render(w, http.StatusOK, "designs.html", "Designs", items)
}

// ShowDesign はデザイン詳細 (編集・出品フォーム付き) を表示します。
func (h *Handler) ShowDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	designID := chi.URLParam(r, "id")
	if !validDesignID.MatchString(designID) {
		http.Error(w, "Bad Request: invalid design ID.", http.StatusBadRequest)
		return
	}

	design, err := h.store.Get(ctx, designID)
	if err != nil {
		slog.WarnContext(ctx, "デザインが見つかりません", "design_id", designID, "error", err)
		http.Error(w, "Design not found", http.StatusNotFound)
		return
	}

	item := DesignListItem{Design: design}
	if url, err := h.store.SignedImageURL(ctx, design); err == nil {
		item.ImageURL = url
	} else {
		slog.WarnContext(ctx, "署名付きURLの発行に失敗しました", "design_id", design.ID, "error", err)
	}

	h.render(w, http.StatusOK, "design_view.html", design.ID, item)
}

// HandlePublish 出品タスク投入リクエストのフォーム送信を処理します。
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Failed to parse form", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	designID := chi.URLParam(r, "id")
	if !validDesignID.MatchString(designID) {
		http.Error(w, "Bad Request: invalid design ID.", http.StatusBadRequest)
		return
	}

	garmentColor := r.FormValue("garment_color")
	if garmentColor == "" {
		garmentColor = "white"
	}

	payload := domain.PublishTaskPayload{
		DesignID:     designID,
		GarmentColor: garmentColor,
		RequestedBy:  h.users.CurrentUser(r),
	}

	if err := h.enqueuer.EnqueuePublishTask(r.Context(), payload); err != nil {
		slog.Error("Failed to enqueue task", "error", err)
		http.Error(w, "Failed to schedule task", http.StatusInternalServerError)
		return
	}

	h.render(w, http.StatusAccepted, "accepted.html", "Accepted", payload)
}
