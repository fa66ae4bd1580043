package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ap-tee-studio/internal/domain"
)

type fakeRunner struct {
	payloads []domain.PublishTaskPayload
	result   domain.PublishResult
	err      error
}

func (f *fakeRunner) Execute(ctx context.Context, payload domain.PublishTaskPayload) (domain.PublishResult, error) {
	f.payloads = append(f.payloads, payload)
	return f.result, f.err
}

func TestPublishTask(t *testing.T) {
	post := func(h *Handler, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/tasks/publish", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.PublishTask(rec, req)
		return rec
	}

	t.Run("正常なペイロードは200で出品結果を返す", func(t *testing.T) {
		runner := &fakeRunner{result: domain.PublishResult{
			ProductID:  "prod-1",
			ProductURL: "https://store.example/products/prod-1",
		}}
		rec := post(NewHandler(runner), `{"design_id":"d1","garment_color":"black","requested_by":"a@example.com"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, runner.payloads, 1)
		assert.Equal(t, "d1", runner.payloads[0].DesignID)
		assert.Equal(t, "black", runner.payloads[0].GarmentColor)

		var result domain.PublishResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "prod-1", result.ProductID)
		assert.Equal(t, "https://store.example/products/prod-1", result.ProductURL)
	})

	t.Run("壊れたJSONは400", func(t *testing.T) {
		runner := &fakeRunner{}
		rec := post(NewHandler(runner), `{not json`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, runner.payloads)
	})

	t.Run("design_id欠落は400", func(t *testing.T) {
		runner := &fakeRunner{}
		rec := post(NewHandler(runner), `{"garment_color":"white"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, runner.payloads)
	})

	t.Run("出品失敗はリトライのため500", func(t *testing.T) {
		runner := &fakeRunner{err: fmt.Errorf("vendor unavailable")}
		rec := post(NewHandler(runner), `{"design_id":"d1"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
