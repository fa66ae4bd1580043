package studio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ap-tee-studio/internal/config"
	"ap-tee-studio/internal/domain"
	"ap-tee-studio/internal/imagegen"
)

// fakeStream は StreamClient のテスト用実装です。テストがチャネルへ
// イベントを流し込みます。
type fakeStream struct {
	mu            sync.Mutex
	reqs          []imagegen.Request
	ctxs          []context.Context
	streams       []chan imagegen.StreamEvent
	streamErr     error
	closeOnCancel bool
	title         string
	titleErr      error
}

func (f *fakeStream) Stream(ctx context.Context, req imagegen.Request) (<-chan imagegen.StreamEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan imagegen.StreamEvent, 16)
	f.reqs = append(f.reqs, req)
	f.ctxs = append(f.ctxs, ctx)
	f.streams = append(f.streams, ch)
	if f.closeOnCancel {
		// 実クライアントは context の打ち切りでストリームを閉じる
		go func() {
			<-ctx.Done()
			close(ch)
		}()
	}
	return ch, nil
}

func (f *fakeStream) GenerateTitle(ctx context.Context, prompt string) (string, error) {
	return f.title, f.titleErr
}

func (f *fakeStream) stream(i int) chan imagegen.StreamEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

func (f *fakeStream) request(i int) imagegen.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[i]
}

// hookRecorder は Hooks の呼び出し履歴を記録し、非同期な完了を
// チャネルで待てるようにします。
type hookRecorder struct {
	mu       sync.Mutex
	busy     []bool
	previews int
	partials []domain.Artifact
	finals   []domain.Artifact
	errors   []string

	savedCh   chan domain.Artifact
	errorCh   chan string
	balanceCh chan struct{}
	discardCh chan struct{}
	idleCh    chan struct{}
	titleCh   chan string
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{
		savedCh:   make(chan domain.Artifact, 4),
		errorCh:   make(chan string, 4),
		balanceCh: make(chan struct{}, 4),
		discardCh: make(chan struct{}, 4),
		idleCh:    make(chan struct{}, 4),
		titleCh:   make(chan string, 4),
	}
}

func (r *hookRecorder) hooks(persistID string) Hooks {
	return Hooks{
		OnBusyChange: func(busy bool) {
			r.mu.Lock()
			r.busy = append(r.busy, busy)
			r.mu.Unlock()
			if !busy {
				r.idleCh <- struct{}{}
			}
		},
		OnPreviewReady: func() {
			r.mu.Lock()
			r.previews++
			r.mu.Unlock()
		},
		OnPartial: func(a domain.Artifact) {
			r.mu.Lock()
			r.partials = append(r.partials, a)
			r.mu.Unlock()
		},
		OnFinal: func(a domain.Artifact) {
			r.mu.Lock()
			r.finals = append(r.finals, a)
			r.mu.Unlock()
		},
		OnSaved: func(a domain.Artifact) {
			r.savedCh <- a
		},
		OnError: func(message string) {
			r.mu.Lock()
			r.errors = append(r.errors, message)
			r.mu.Unlock()
			r.errorCh <- message
		},
		OnBalanceRequired: func() {
			r.balanceCh <- struct{}{}
		},
		OnDiscard: func() {
			r.discardCh <- struct{}{}
		},
		Persist: func(ctx context.Context, a domain.Artifact) (string, error) {
			return persistID, nil
		},
		UpdateTitle: func(ctx context.Context, designID, title string) error {
			r.titleCh <- designID + "/" + title
			return nil
		},
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func testPolicy() *QualityPolicy {
	return NewQualityPolicy(&config.Config{
		ImageFastModel:     "fast-model",
		ImageStandardModel: "standard-model",
		ImageQualityModel:  "quality-model",
	})
}

func TestOrchestratorGenerate(t *testing.T) {
	t.Run("完走したセッションは保存とタイトル生成まで進む", func(t *testing.T) {
		fake := &fakeStream{title: "コズミックキャット"}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("design-123"), Options{ImageSize: "1024x1024"})

		o.Generate(context.Background(), "cosmic cat", nil, domain.TierHigh)

		require.Eventually(t, func() bool {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			return len(fake.streams) == 1
		}, time.Second, 10*time.Millisecond)

		ch := fake.stream(0)
		ch <- imagegen.PartialArtifact{ImageData: []byte("p0"), SequenceIndex: 0}
		ch <- imagegen.PartialArtifact{ImageData: []byte("p1"), SequenceIndex: 1}
		ch <- imagegen.FinalArtifact{ImageData: []byte("final")}
		ch <- imagegen.ResponseIdentified{ID: "resp_1"}
		close(ch)

		saved := waitFor(t, rec.savedCh, "saved artifact")
		assert.Equal(t, "design-123", saved.DesignID)
		assert.Equal(t, "resp_1", saved.ResponseID)
		assert.False(t, saved.IsPartial)

		title := waitFor(t, rec.titleCh, "title update")
		assert.Equal(t, "design-123/コズミックキャット", title)

		rec.mu.Lock()
		defer rec.mu.Unlock()
		assert.Equal(t, []bool{true, false}, rec.busy)
		assert.Equal(t, 1, rec.previews)
		assert.Len(t, rec.partials, 2)
		assert.Len(t, rec.finals, 1)
		assert.Empty(t, rec.errors)

		// 品質Tierがモデル選択へ反映されている
		req := fake.request(0)
		assert.Equal(t, "quality-model", req.Model)
		assert.Equal(t, 3, req.PartialImages)
		assert.Equal(t, "low", req.InputFidelity)
	})

	t.Run("参照画像付きは入力忠実度を引き上げる", func(t *testing.T) {
		fake := &fakeStream{}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("d"), Options{})

		o.Generate(context.Background(), "p", []string{"data:image/png;base64,QUJD"}, domain.TierLow)

		require.Eventually(t, func() bool {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			return len(fake.reqs) == 1
		}, time.Second, 10*time.Millisecond)

		assert.Equal(t, "high", fake.request(0).InputFidelity)
		close(fake.stream(0))
		waitFor(t, rec.idleCh, "busy cleared")
	})

	t.Run("編集は相関IDと既存デザインIDを引き継ぐ", func(t *testing.T) {
		fake := &fakeStream{}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("design-9"), Options{})

		o.Edit(context.Background(), "make it blue", "resp_prev", domain.TierMedium, "design-9")

		require.Eventually(t, func() bool {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			return len(fake.streams) == 1
		}, time.Second, 10*time.Millisecond)

		assert.Equal(t, "resp_prev", fake.request(0).PreviousResponseID)

		ch := fake.stream(0)
		ch <- imagegen.FinalArtifact{ImageData: []byte("v2")}
		close(ch)

		saved := waitFor(t, rec.savedCh, "saved artifact")
		assert.Equal(t, "design-9", saved.DesignID)
	})

	t.Run("成果物なしの完了は保存もエラーも発生しない", func(t *testing.T) {
		fake := &fakeStream{}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("d"), Options{})

		o.Generate(context.Background(), "p", nil, domain.TierLow)

		require.Eventually(t, func() bool {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			return len(fake.streams) == 1
		}, time.Second, 10*time.Millisecond)

		close(fake.stream(0))
		waitFor(t, rec.idleCh, "busy cleared")

		select {
		case a := <-rec.savedCh:
			t.Fatalf("unexpected save: %+v", a)
		case msg := <-rec.errorCh:
			t.Fatalf("unexpected error: %s", msg)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestOrchestratorFailures(t *testing.T) {
	t.Run("残高不足はチャージ導線のみを出す", func(t *testing.T) {
		fake := &fakeStream{streamErr: imagegen.ErrInsufficientBalance}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("d"), Options{})

		o.Generate(context.Background(), "p", nil, domain.TierLow)

		waitFor(t, rec.balanceCh, "balance hook")
		waitFor(t, rec.discardCh, "discard signal")
		select {
		case msg := <-rec.errorCh:
			t.Fatalf("generic error must not fire for balance exhaustion: %s", msg)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("レート制限は固定文言のエラーになる", func(t *testing.T) {
		fake := &fakeStream{streamErr: imagegen.ErrRateLimited}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("d"), Options{})

		o.Generate(context.Background(), "p", nil, domain.TierLow)

		msg := waitFor(t, rec.errorCh, "error hook")
		assert.Equal(t, msgRateLimited, msg)
	})

	t.Run("プロバイダのメッセージはそのまま提示する", func(t *testing.T) {
		fake := &fakeStream{}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("d"), Options{})

		o.Generate(context.Background(), "p", nil, domain.TierLow)

		require.Eventually(t, func() bool {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			return len(fake.streams) == 1
		}, time.Second, 10*time.Millisecond)

		ch := fake.stream(0)
		ch <- imagegen.Failure{Err: &imagegen.ProviderError{Message: "safety system rejected the prompt"}}
		close(ch)

		msg := waitFor(t, rec.errorCh, "error hook")
		assert.Equal(t, "safety system rejected the prompt", msg)
	})

	t.Run("失敗時は進行中のプレビューの破棄を指示する", func(t *testing.T) {
		fake := &fakeStream{}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("d"), Options{})

		o.Generate(context.Background(), "p", nil, domain.TierLow)

		require.Eventually(t, func() bool {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			return len(fake.streams) == 1
		}, time.Second, 10*time.Millisecond)

		// 部分画像を届けた後に失敗させ、表示済みプレビューが破棄されること
		ch := fake.stream(0)
		ch <- imagegen.PartialArtifact{ImageData: []byte("p0"), SequenceIndex: 0}
		ch <- imagegen.Failure{Err: &imagegen.ProviderError{Message: "boom"}}
		close(ch)

		waitFor(t, rec.discardCh, "discard signal")
		waitFor(t, rec.errorCh, "error hook")
	})

	t.Run("ストリームタイムアウトはタイムアウト文言になる", func(t *testing.T) {
		fake := &fakeStream{closeOnCancel: true}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("d"), Options{StreamTimeout: 50 * time.Millisecond})

		o.Generate(context.Background(), "p", nil, domain.TierLow)

		msg := waitFor(t, rec.errorCh, "timeout error")
		assert.Equal(t, msgTimeout, msg)
	})
}

func TestOrchestratorSupersede(t *testing.T) {
	t.Run("新しいセッションは進行中のセッションを打ち切る", func(t *testing.T) {
		fake := &fakeStream{}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("design-b"), Options{})

		o.Generate(context.Background(), "first", nil, domain.TierLow)
		require.Eventually(t, func() bool {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			return len(fake.streams) == 1
		}, time.Second, 10*time.Millisecond)

		o.Generate(context.Background(), "second", nil, domain.TierLow)
		require.Eventually(t, func() bool {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			return len(fake.streams) == 2
		}, time.Second, 10*time.Millisecond)

		// 置き換えられた側のトランスポートは即座に打ち切られる
		fake.mu.Lock()
		firstCtx := fake.ctxs[0]
		fake.mu.Unlock()
		select {
		case <-firstCtx.Done():
		case <-time.After(time.Second):
			t.Fatal("superseded session context was not cancelled")
		}

		// 置き換えられた側の遅延イベントはUIへ届かない
		chA := fake.stream(0)
		chA <- imagegen.PartialArtifact{ImageData: []byte("stale"), SequenceIndex: 0}
		close(chA)

		// 現行セッションは通常どおり完了する
		chB := fake.stream(1)
		chB <- imagegen.FinalArtifact{ImageData: []byte("fresh")}
		close(chB)

		saved := waitFor(t, rec.savedCh, "saved artifact")
		assert.Equal(t, "design-b", saved.DesignID)

		rec.mu.Lock()
		defer rec.mu.Unlock()
		assert.Empty(t, rec.partials, "stale partials must not reach the UI")
		require.Len(t, rec.finals, 1)
	})
}

func TestOrchestratorGenerateDebug(t *testing.T) {
	t.Run("プロバイダを介さず即座に完成イベントを合成する", func(t *testing.T) {
		fake := &fakeStream{}
		rec := newHookRecorder()
		o := New(fake, testPolicy(), rec.hooks("d"), Options{})

		o.GenerateDebug("debug prompt")

		rec.mu.Lock()
		defer rec.mu.Unlock()
		assert.Equal(t, []bool{true, false}, rec.busy)
		assert.Equal(t, 1, rec.previews)
		require.Len(t, rec.finals, 1)
		assert.Equal(t, "debug prompt", rec.finals[0].Prompt)
		assert.False(t, rec.finals[0].IsPartial)

		fake.mu.Lock()
		defer fake.mu.Unlock()
		assert.Empty(t, fake.reqs, "debug mode must not touch the provider")
	})
}
