package web

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ap-tee-studio/internal/config"
	"ap-tee-studio/internal/domain"
	"ap-tee-studio/internal/prompt"
)

// --- フェイク依存 ---

type fakeDesignStore struct {
	designs map[string]domain.Design
	listErr error
}

func (f *fakeDesignStore) List(ctx context.Context) ([]domain.Design, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Design
	for _, d := range f.designs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDesignStore) Get(ctx context.Context, designID string) (domain.Design, error) {
	d, ok := f.designs[designID]
	if !ok {
		return domain.Design{}, fmt.Errorf("design not found: %s", designID)
	}
	return d, nil
}

func (f *fakeDesignStore) SignedImageURL(ctx context.Context, d domain.Design) (string, error) {
	return "https://signed.example/" + d.ID, nil
}

type generateCall struct {
	prompt string
	refs   []string
	tier   domain.QualityTier
}

type editCall struct {
	prompt     string
	responseID string
	tier       domain.QualityTier
	designID   string
}

type fakeGenerator struct {
	generates []generateCall
	edits     []editCall
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, refs []string, tier domain.QualityTier) {
	f.generates = append(f.generates, generateCall{prompt: prompt, refs: refs, tier: tier})
}

func (f *fakeGenerator) Edit(ctx context.Context, prompt, priorResponseID string, tier domain.QualityTier, designID string) {
	f.edits = append(f.edits, editCall{prompt: prompt, responseID: priorResponseID, tier: tier, designID: designID})
}

type fakeEnqueuer struct {
	payloads []domain.PublishTaskPayload
	err      error
}

func (f *fakeEnqueuer) EnqueuePublishTask(ctx context.Context, payload domain.PublishTaskPayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeUsers struct{ email string }

func (f *fakeUsers) CurrentUser(r *http.Request) string { return f.email }

// --- テストセットアップ ---

func writeTestTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"layout.html":      `<title>{{.Title}}</title>{{template "content" .Data}}`,
		"studio.html":      `{{define "content"}}studio:{{range .Tiers}}{{.}},{{end}}{{end}}`,
		"designs.html":     `{{define "content"}}{{range .}}[{{.Design.ID}}]{{end}}{{end}}`,
		"design_view.html": `{{define "content"}}view:{{.Design.ID}}:{{.ImageURL}}{{end}}`,
		"accepted.html":    `{{define "content"}}accepted:{{.DesignID}}{{end}}`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

type testEnv struct {
	handler   *Handler
	generator *fakeGenerator
	enqueuer  *fakeEnqueuer
	store     *fakeDesignStore
	router    chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		TemplateDir: writeTestTemplates(t),
		StyleSuffix: "print-ready",
	}
	store := &fakeDesignStore{designs: map[string]domain.Design{}}
	generator := &fakeGenerator{}
	enqueuer := &fakeEnqueuer{}

	h, err := NewHandler(cfg, store, generator, prompt.NewComposer(cfg.StyleSuffix),
		enqueuer, &fakeUsers{email: "designer@example.com"}, NewBroker())
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/", h.Index)
	r.Post("/generate", h.HandleGenerate)
	r.Get("/designs", h.ListDesigns)
	r.Get("/designs/{id}", h.ShowDesign)
	r.Post("/designs/{id}/edit", h.HandleEdit)
	r.Post("/designs/{id}/publish", h.HandlePublish)

	return &testEnv{handler: h, generator: generator, enqueuer: enqueuer, store: store, router: r}
}

func multipartForm(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

// --- テスト ---

func TestIndex(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studio:low,medium,high,")
}

func TestHandleGenerate(t *testing.T) {
	t.Run("受理するとスタイル合成済みプロンプトで生成が始まる", func(t *testing.T) {
		env := newTestEnv(t)

		body, contentType := multipartForm(t, map[string]string{
			"prompt": "a cat astronaut",
			"style":  "retro",
			"tier":   "high",
		})
		req := httptest.NewRequest(http.MethodPost, "/generate", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, env.generator.generates, 1)
		call := env.generator.generates[0]
		assert.Contains(t, call.prompt, "a cat astronaut")
		assert.Contains(t, call.prompt, "retro 70s aesthetic")
		assert.True(t, strings.HasSuffix(call.prompt, "print-ready"))
		assert.Equal(t, domain.TierHigh, call.tier)
	})

	t.Run("Tier未指定はmediumになる", func(t *testing.T) {
		env := newTestEnv(t)

		body, contentType := multipartForm(t, map[string]string{"prompt": "p"})
		req := httptest.NewRequest(http.MethodPost, "/generate", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, env.generator.generates, 1)
		assert.Equal(t, domain.TierMedium, env.generator.generates[0].tier)
	})

	t.Run("不正なTierは400", func(t *testing.T) {
		env := newTestEnv(t)

		body, contentType := multipartForm(t, map[string]string{"prompt": "p", "tier": "ultra"})
		req := httptest.NewRequest(http.MethodPost, "/generate", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.generator.generates)
	})

	t.Run("プロンプト欠落は400", func(t *testing.T) {
		env := newTestEnv(t)

		body, contentType := multipartForm(t, map[string]string{"tier": "low"})
		req := httptest.NewRequest(http.MethodPost, "/generate", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleEdit(t *testing.T) {
	design := domain.Design{ID: "d1", ResponseID: "resp_1", Prompt: "cat"}

	postForm := func(t *testing.T, env *testEnv, path string, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("相関IDを引き継いで編集セッションが始まる", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.designs["d1"] = design

		rec := postForm(t, env, "/designs/d1/edit", url.Values{
			"prompt": {"make it blue"},
			"tier":   {"low"},
		})

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, env.generator.edits, 1)
		call := env.generator.edits[0]
		assert.Equal(t, "resp_1", call.responseID)
		assert.Equal(t, "d1", call.designID)
		assert.Equal(t, domain.TierLow, call.tier)
	})

	t.Run("相関IDのないデザインは409", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.designs["d2"] = domain.Design{ID: "d2"}

		rec := postForm(t, env, "/designs/d2/edit", url.Values{"prompt": {"p"}})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("存在しないデザインは404", func(t *testing.T) {
		env := newTestEnv(t)

		rec := postForm(t, env, "/designs/nope/edit", url.Values{"prompt": {"p"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDesignPages(t *testing.T) {
	t.Run("一覧はデザインIDを表示する", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.designs["d1"] = domain.Design{ID: "d1"}

		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/designs", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "[d1]")
	})

	t.Run("詳細は署名付きURLを表示する", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.designs["d1"] = domain.Design{ID: "d1"}

		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/designs/d1", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "https://signed.example/d1")
	})

	t.Run("存在しないデザインは404", func(t *testing.T) {
		env := newTestEnv(t)

		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/designs/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandlePublish(t *testing.T) {
	t.Run("出品タスクに操作ユーザーが記録される", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.designs["d1"] = domain.Design{ID: "d1"}

		form := url.Values{"garment_color": {"black"}}
		req := httptest.NewRequest(http.MethodPost, "/designs/d1/publish", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, env.enqueuer.payloads, 1)
		payload := env.enqueuer.payloads[0]
		assert.Equal(t, "d1", payload.DesignID)
		assert.Equal(t, "black", payload.GarmentColor)
		assert.Equal(t, "designer@example.com", payload.RequestedBy)
		assert.Contains(t, rec.Body.String(), "accepted:d1")
	})

	t.Run("ボディカラー未指定はwhiteになる", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodPost, "/designs/d1/publish", strings.NewReader(""))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		require.Len(t, env.enqueuer.payloads, 1)
		assert.Equal(t, "white", env.enqueuer.payloads[0].GarmentColor)
	})

	t.Run("投入失敗は500", func(t *testing.T) {
		env := newTestEnv(t)
		env.enqueuer.err = fmt.Errorf("queue unavailable")

		req := httptest.NewRequest(http.MethodPost, "/designs/d1/publish", strings.NewReader(""))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
