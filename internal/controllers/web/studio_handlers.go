package web

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ap-tee-studio/internal/domain"
	"ap-tee-studio/internal/prompt"
)

// 参照画像アップロードの上限。Tシャツの版下用途では十分な値です。
const (
	maxUploadBytes     = 10 << 20
	maxReferenceImages = 3
)

// StudioPageData はスタジオ (生成フォーム) 画面用のビューモデルです
type StudioPageData struct {
	Tiers  []domain.QualityTier
	Styles []string
	Themes []string
}

// Index はメインのデザイン生成フォームを表示します
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	data := StudioPageData{
		Tiers:  []domain.QualityTier{domain.TierLow, domain.TierMedium, domain.TierHigh},
		Styles: prompt.Styles(),
		Themes: prompt.Themes(),
	}
	h.render(w, http.StatusOK, "studio.html", "Studio", data)
}

// HandleGenerate は新規生成リクエストを受け付けます。進捗と結果は
// /generate/events の SSE で配送されるため、ここでは 202 を返すだけです。
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		slog.Warn("Failed to parse form", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	userText := r.FormValue("prompt")
	if userText == "" {
		http.Error(w, "Prompt is required", http.StatusBadRequest)
		return
	}

	tier, ok := h.parseTier(r)
	if !ok {
		http.Error(w, "Bad Request: invalid quality tier.", http.StatusBadRequest)
		return
	}

	refs, err := h.collectReferenceImages(r)
	if err != nil {
		slog.WarnContext(r.Context(), "Invalid reference image", "error", err)
		http.Error(w, "Bad Request: invalid reference image.", http.StatusBadRequest)
		return
	}

	composed := h.composer.Compose(userText, r.FormValue("style"), r.FormValue("theme"))
	h.generator.Generate(r.Context(), composed, refs, tier)

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleEdit は既存デザインに対する編集セッションを開始します。
// 編集は元の生成との相関IDを引き継ぎ、同じデザインの新バージョンとして
// 保存されます。
func (h *Handler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	designID := chi.URLParam(r, "id")
	if !validDesignID.MatchString(designID) {
		http.Error(w, "Bad Request: invalid design ID.", http.StatusBadRequest)
		return
	}

	if err := r.ParseForm(); err != nil {
		slog.Warn("Failed to parse form", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	userText := r.FormValue("prompt")
	if userText == "" {
		http.Error(w, "Prompt is required", http.StatusBadRequest)
		return
	}

	tier, ok := h.parseTier(r)
	if !ok {
		http.Error(w, "Bad Request: invalid quality tier.", http.StatusBadRequest)
		return
	}

	design, err := h.store.Get(r.Context(), designID)
	if err != nil {
		slog.WarnContext(r.Context(), "Design not found for edit", "design_id", designID, "error", err)
		http.Error(w, "Design not found", http.StatusNotFound)
		return
	}
	if design.ResponseID == "" {
		// 相関IDのないデザインは編集セッションを継続できません。
		http.Error(w, "Design has no edit history", http.StatusConflict)
		return
	}

	composed := h.composer.Compose(userText, r.FormValue("style"), r.FormValue("theme"))
	h.generator.Edit(r.Context(), composed, design.ResponseID, tier, design.ID)

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Events は生成セッションのUIイベントを Server-Sent Events で配信します。
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.broker.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				slog.Debug("SSE購読者への書き込みに失敗しました", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// parseTier はフォームの品質Tierを検証します。未指定は medium です。
func (h *Handler) parseTier(r *http.Request) (domain.QualityTier, bool) {
	raw := r.FormValue("tier")
	if raw == "" {
		return domain.TierMedium, true
	}
	tier := domain.QualityTier(raw)
	if !tier.Valid() {
		return "", false
	}
	return tier, true
}

// collectReferenceImages はアップロードされた参照画像を data URL に変換します。
func (h *Handler) collectReferenceImages(r *http.Request) ([]string, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	files := r.MultipartForm.File["reference_images"]
	if len(files) > maxReferenceImages {
		return nil, fmt.Errorf("too many reference images: %d", len(files))
	}

	var refs []string
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
		}

		contentType := http.DetectContentType(data)
		if contentType != "image/png" && contentType != "image/jpeg" && contentType != "image/webp" {
			return nil, fmt.Errorf("unsupported image type: %s", contentType)
		}
		refs = append(refs, fmt.Sprintf("data:%s;base64,%s",
			contentType, base64.StdEncoding.EncodeToString(data)))
	}
	return refs, nil
}
