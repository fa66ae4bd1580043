// Package studio は生成セッションのオーケストレーションを担います。
// プロバイダリクエストの構築、単一アクティブセッションの管理、
// 成果物の下流への引き渡しがここに集約されます。
package studio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ap-tee-studio/internal/domain"
	"ap-tee-studio/internal/imagegen"
	"ap-tee-studio/internal/session"
)

// ユーザー向けエラーメッセージ。プロバイダの生メッセージを提示できない
// 分類はここで固定文言に変換します。
const (
	msgUnauthorized = "認証の有効期限が切れました。再度ログインしてください。"
	msgRateLimited  = "アクセスが集中しています。しばらく待ってから再試行してください。"
	msgTimeout      = "画像の生成がタイムアウトしました。もう一度お試しください。"
	msgGeneric      = "画像の生成に失敗しました。もう一度お試しください。"
)

// persistTimeout は完了フック (保存) とタイトル副次タスクの上限です。
const persistTimeout = 30 * time.Second

// Hooks は Orchestrator が周辺アプリケーションと接続するためのフック群です。
// UI表示に関わるフックは、そのセッションが現在もアクティブな場合のみ
// 呼び出されます (置き換えられたセッションの遅延イベントは観測されません)。
type Hooks struct {
	// OnBusyChange は全画面プログレス表示用のビジーフラグ変化を通知します。
	OnBusyChange func(busy bool)
	// OnPreviewReady はセッション最初の部分画像の直前に1回だけ呼ばれ、
	// プレビュー画面への遷移を促します。
	OnPreviewReady func()
	// OnPartial は部分画像ごとに呼ばれます。
	OnPartial func(domain.Artifact)
	// OnFinal は完成画像 (明示的または昇格) に対して最大1回呼ばれます。
	OnFinal func(domain.Artifact)
	// OnSaved は完了フックによる永続化のあと、デザインIDが確定した
	// 成果物に対して呼ばれます。
	OnSaved func(domain.Artifact)
	// OnDiscard は失敗時に進行中の成果物 (プレビュー/部分画像) の破棄を
	// 指示します。OnError または OnBalanceRequired の直前に呼ばれます。
	OnDiscard func()
	// OnError はユーザー向けメッセージ付きの失敗通知です。
	// OnBalanceRequired と排他です。
	OnError func(message string)
	// OnBalanceRequired は残高不足 (402相当) 専用の通知です。
	// 汎用エラーバナーではなくチャージ導線を表示させます。
	OnBalanceRequired func()
	// Persist は完成成果物を保存しデザインIDを返す完了フックです。
	// Orchestrator は戻りのIDを待ってから後続のブックキーピングを行います。
	Persist func(ctx context.Context, a domain.Artifact) (string, error)
	// UpdateTitle はタイトル副次タスクの結果を保存します。
	UpdateTitle func(ctx context.Context, designID, title string) error
}

// Options はプロバイダリクエストの共通パラメータです。
type Options struct {
	ImageSize     string
	Moderation    string
	StreamTimeout time.Duration
}

type activeSession struct {
	id     string
	cancel context.CancelFunc
}

// capture はイベントループが拾った完成成果物を finalize へ引き渡します。
type capture struct {
	final *domain.Artifact
}

// Orchestrator は常に最大1本の生成セッションを保持します。
// アクティブセッションはインスタンスのフィールドであり、テスト用に
// 複数の独立した Orchestrator を共存させられます。
type Orchestrator struct {
	client imagegen.StreamClient
	policy *QualityPolicy
	hooks  Hooks
	opts   Options

	mu     sync.Mutex
	active *activeSession
}

// New は Orchestrator を初期化します。
func New(client imagegen.StreamClient, policy *QualityPolicy, hooks Hooks, opts Options) *Orchestrator {
	if opts.Moderation == "" {
		opts.Moderation = "auto"
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		client: client,
		policy: policy,
		hooks:  hooks,
		opts:   opts,
	}
}

// Generate は新規の生成セッションを開始します。結果はフック経由で配送
// されるため戻り値はありません。プロンプトが空でないことは上流 (フォーム
// バリデーション) が保証します。
func (o *Orchestrator) Generate(ctx context.Context, prompt string, conditioningImages []string, tier domain.QualityTier) {
	o.start(ctx, domain.GenerateRequest{
		Prompt:             prompt,
		ConditioningImages: conditioningImages,
		Tier:               tier,
	}, "")
}

// Edit は完了済みの生成を相関IDで引き継ぐ編集セッションを開始します。
// designID を渡すと、成果物は同じデザインの新バージョンとして永続化されます。
func (o *Orchestrator) Edit(ctx context.Context, prompt, priorResponseID string, tier domain.QualityTier, designID string) {
	o.start(ctx, domain.GenerateRequest{
		Prompt:         prompt,
		Tier:           tier,
		ContinuationID: priorResponseID,
	}, designID)
}

// GenerateDebug はプロバイダを介さず即座に固定の成果物を合成します。
// テスト・デモ専用の逃げ道であり、本番のルーティングからは到達できません。
func (o *Orchestrator) GenerateDebug(prompt string) {
	if o.hooks.OnBusyChange != nil {
		o.hooks.OnBusyChange(true)
	}
	if o.hooks.OnPreviewReady != nil {
		o.hooks.OnPreviewReady()
	}
	if o.hooks.OnFinal != nil {
		o.hooks.OnFinal(domain.Artifact{
			Prompt:      prompt,
			ImageURL:    debugImageDataURL,
			GeneratedAt: time.Now(),
			IsPartial:   false,
		})
	}
	if o.hooks.OnBusyChange != nil {
		o.hooks.OnBusyChange(false)
	}
}

func (o *Orchestrator) start(ctx context.Context, req domain.GenerateRequest, designID string) {
	params := o.policy.ParamsFor(req.Tier)

	// 参照画像付きのリクエストはテキストのみの場合より高い入力忠実度を要求します。
	inputFidelity := "low"
	if len(req.ConditioningImages) > 0 {
		inputFidelity = "high"
	}

	provReq := imagegen.Request{
		Model:              params.Model,
		Prompt:             req.Prompt,
		ConditioningImages: req.ConditioningImages,
		PreviousResponseID: req.ContinuationID,
		Quality:            params.Fidelity,
		Size:               o.opts.ImageSize,
		PartialImages:      params.PartialImages,
		Moderation:         o.opts.Moderation,
		InputFidelity:      inputFidelity,
	}

	// セッションはHTTPリクエストの完了後も継続するため、呼び出し元の
	// キャンセルからは切り離し、ストリームタイムアウトのみを課します。
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StreamTimeout)

	cap := &capture{}
	sess := o.newSession(req, designID, cap)

	// 新しいセッションの開始は進行中のセッションを即座に置き換えます。
	// 置き換えられた側はトランスポートごと打ち切られ、以後のイベントは
	// UIから観測されません。
	o.mu.Lock()
	if o.active != nil {
		slog.Info("進行中の生成セッションを新しいリクエストで置き換えます",
			"superseded", o.active.id, "current", sess.ID())
		o.active.cancel()
	}
	o.active = &activeSession{id: sess.ID(), cancel: cancel}
	o.mu.Unlock()

	if o.hooks.OnBusyChange != nil {
		o.hooks.OnBusyChange(true)
	}

	go o.run(sctx, cancel, sess, provReq, cap)
}

func (o *Orchestrator) newSession(req domain.GenerateRequest, designID string, cap *capture) *session.Session {
	var sess *session.Session
	firstPartial := true

	sess = session.New(req.Prompt, req.ContinuationID, designID, session.Callbacks{
		OnPartial: func(a domain.Artifact) {
			if !o.isCurrent(sess.ID()) {
				return
			}
			if firstPartial {
				firstPartial = false
				if o.hooks.OnPreviewReady != nil {
					o.hooks.OnPreviewReady()
				}
			}
			if o.hooks.OnPartial != nil {
				o.hooks.OnPartial(a)
			}
		},
		OnFinal: func(a domain.Artifact) {
			cap.final = &a
			if !o.isCurrent(sess.ID()) {
				return
			}
			if o.hooks.OnFinal != nil {
				o.hooks.OnFinal(a)
			}
		},
	})
	return sess
}

// run はセッションのイベントループです。セッションごとに1本のゴルーチンで
// 実行され、ステートマシンへのイベント適用はすべてここから行われます。
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, sess *session.Session, req imagegen.Request, cap *capture) {
	defer cancel()

	events, err := o.client.Stream(ctx, req)
	if err != nil {
		o.failSession(sess, err)
		return
	}

	for ev := range events {
		if f, ok := ev.(imagegen.Failure); ok {
			o.failSession(sess, f.Err)
			return
		}
		sess.HandleEvent(ev)
	}

	// チャネルが閉じた理由がタイムアウト/置き換えなら完了扱いにしません。
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			o.failSession(sess, ctxErr)
		}
		return
	}

	// 明示的な完成画像が来ていなければ最後の部分画像を昇格させます。
	sess.Complete()

	o.finalize(sess, cap)
}

// finalize は完了後のブックキーピングです。ビジー解除、完了フック (保存)
// の待機、デザインIDの確定、タイトル副次タスクの起動を行います。
func (o *Orchestrator) finalize(sess *session.Session, cap *capture) {
	if !o.clearIfCurrent(sess.ID()) {
		return
	}
	if o.hooks.OnBusyChange != nil {
		o.hooks.OnBusyChange(false)
	}

	if cap.final == nil {
		// 成果物なしの完了。Session 側で警告済みのため静かに終えます。
		return
	}

	a := *cap.final
	a.ResponseID = sess.ResponseID()

	if o.hooks.Persist != nil {
		pctx, pcancel := context.WithTimeout(context.Background(), persistTimeout)
		defer pcancel()

		designID, err := o.hooks.Persist(pctx, a)
		if err != nil {
			slog.Error("デザインの保存に失敗しました", "session_id", sess.ID(), "error", err)
			return
		}
		if designID != "" {
			a.DesignID = designID
		}

		// タイトル生成はベストエフォートの切り離されたタスクです。
		// 失敗してもセッションの成否には影響しません。
		go o.generateTitle(a.Prompt, a.DesignID)
	}

	if o.hooks.OnSaved != nil {
		o.hooks.OnSaved(a)
	}
}

func (o *Orchestrator) generateTitle(prompt, designID string) {
	if o.hooks.UpdateTitle == nil || designID == "" {
		return
	}

	tctx, tcancel := context.WithTimeout(context.Background(), persistTimeout)
	defer tcancel()

	title, err := o.client.GenerateTitle(tctx, prompt)
	if err != nil {
		slog.Warn("タイトル生成に失敗しました", "design_id", designID, "error", err)
		return
	}
	if err := o.hooks.UpdateTitle(tctx, designID, title); err != nil {
		slog.Warn("タイトルの保存に失敗しました", "design_id", designID, "error", err)
	}
}

func (o *Orchestrator) failSession(sess *session.Session, err error) {
	sess.Fail(err)
	o.reportFailure(sess.ID(), err)
}

// reportFailure は失敗をちょうど1つのユーザー向け通知へ変換します。
// 先に進行中の成果物を破棄させ、残高不足はエラーバナーではなく
// チャージ導線を出します。
func (o *Orchestrator) reportFailure(sessionID string, err error) {
	if !o.clearIfCurrent(sessionID) {
		return
	}
	if o.hooks.OnBusyChange != nil {
		o.hooks.OnBusyChange(false)
	}
	if o.hooks.OnDiscard != nil {
		o.hooks.OnDiscard()
	}

	var provErr *imagegen.ProviderError
	switch {
	case errors.Is(err, imagegen.ErrInsufficientBalance):
		slog.Warn("残高不足のため生成を中断しました", "session_id", sessionID)
		if o.hooks.OnBalanceRequired != nil {
			o.hooks.OnBalanceRequired()
		}
	case errors.Is(err, imagegen.ErrUnauthorized):
		o.emitError(sessionID, err, msgUnauthorized)
	case errors.Is(err, imagegen.ErrRateLimited):
		o.emitError(sessionID, err, msgRateLimited)
	case errors.Is(err, context.DeadlineExceeded):
		o.emitError(sessionID, err, msgTimeout)
	case errors.As(err, &provErr):
		// プロバイダのメッセージは妥当な範囲でそのまま提示します。
		o.emitError(sessionID, err, provErr.Message)
	default:
		o.emitError(sessionID, err, msgGeneric)
	}
}

func (o *Orchestrator) emitError(sessionID string, err error, message string) {
	slog.Error("生成セッションが失敗しました", "session_id", sessionID, "error", err)
	if o.hooks.OnError != nil {
		o.hooks.OnError(message)
	}
}

func (o *Orchestrator) isCurrent(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil && o.active.id == sessionID
}

// clearIfCurrent はセッションがまだアクティブであればスロットを空にして
// true を返します。既に置き換えられていた場合は false です。
func (o *Orchestrator) clearIfCurrent(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.id != sessionID {
		return false
	}
	o.active = nil
	return true
}

// debugImageDataURL は 1x1 透過PNGです。GenerateDebug 専用。
const debugImageDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="
