package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ap-tee-studio/internal/domain"
)

// PublishRunner は実際の出品ロジックを持つインターフェースなのだ
type PublishRunner interface {
	Execute(ctx context.Context, payload domain.PublishTaskPayload) (domain.PublishResult, error)
}

type Handler struct {
	runner PublishRunner
}

func NewHandler(runner PublishRunner) *Handler {
	return &Handler{
		runner: runner,
	}
}

// PublishTask は /tasks/publish へのリクエストを処理するのだ
func (h *Handler) PublishTask(w http.ResponseWriter, r *http.Request) {
	var payload domain.PublishTaskPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Error("Failed to decode task payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if payload.DesignID == "" {
		http.Error(w, "design_id is required", http.StatusBadRequest)
		return
	}

	slog.Info("Starting publish task", "design_id", payload.DesignID)

	// Cloud Run のタイムアウトまで同期実行されるのだ
	result, err := h.runner.Execute(r.Context(), payload)
	if err != nil {
		slog.Error("Publish task failed", "design_id", payload.DesignID, "error", err)
		// 500を返すと Cloud Tasks が自動でリトライしてくれるのだ！
		http.Error(w, "Publish failed", http.StatusInternalServerError)
		return
	}

	slog.Info("Publish task completed",
		"design_id", payload.DesignID,
		"product_id", result.ProductID,
		"product_url", result.ProductURL,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Warn("Failed to encode publish result", "error", err)
	}
}
