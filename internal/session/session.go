// Package session は1回の画像生成ストリームのライフサイクルを管理する
// ステートマシンを提供します。イベントは単一のゴルーチンから到着順に
// 適用される前提のため、ロックは持ちません。
package session

import (
	"encoding/base64"
	"log/slog"
	"time"

	"ap-tee-studio/internal/domain"
	"ap-tee-studio/internal/imagegen"

	"github.com/google/uuid"
)

// Status はセッションの状態です。pending → streaming → {completed | failed}
// と遷移し、failed は終端です。
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Callbacks はセッションが下流 (UI・永続化・3Dプレビュー) へ成果物を
// 届けるためのフックです。いずれも nil 可です。
type Callbacks struct {
	// OnPartial は部分画像ごとに何度でも呼ばれます。
	OnPartial func(domain.Artifact)
	// OnFinal はセッションごとに最大1回呼ばれます。
	OnFinal func(domain.Artifact)
	// OnError は失敗時に1回だけ呼ばれ、OnFinal とは排他です。
	OnError func(error)
}

type frame struct {
	data  []byte
	index int
}

// Session は進行中の1生成に対するローカルな状態です。ID はローカルな
// 識別子であり、プロバイダの相関ID (responseID) とは別物です。
type Session struct {
	id             string
	prompt         string
	continuationOf string
	designID       string

	status      Status
	responseID  string
	lastPartial *frame
	cb          Callbacks
}

// New は pending 状態のセッションを作成します。continuationID と designID
// は編集 (バージョン追加) の場合のみ非空です。
func New(prompt, continuationID, designID string, cb Callbacks) *Session {
	return &Session{
		id:             uuid.NewString(),
		prompt:         prompt,
		continuationOf: continuationID,
		designID:       designID,
		status:         StatusPending,
		cb:             cb,
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Status() Status     { return s.status }
func (s *Session) ResponseID() string { return s.responseID }
func (s *Session) DesignID() string   { return s.designID }

// HandleEvent はデコード済みイベントを1件適用します。
//
// failed 後のイベントはネットワーク上のレースとみなしてすべて無視します。
// completed 後は相関IDの捕捉のみ受け付けます。プロバイダは完成画像の
// 後に completion-with-id を送ることがあるためです。
func (s *Session) HandleEvent(ev imagegen.StreamEvent) {
	if s.status == StatusFailed {
		return
	}
	if s.status == StatusPending {
		s.status = StatusStreaming
	}

	switch e := ev.(type) {
	case imagegen.ResponseIdentified:
		// 複数回届いた場合は最後の値を採用します。
		s.responseID = e.ID

	case imagegen.PartialArtifact:
		if s.status == StatusCompleted {
			return
		}
		// 履歴はバッファせず、常に最後に届いたフレームを採用します。
		// 数値上のインデックスが逆行していても配送順を信頼します。
		s.lastPartial = &frame{data: e.ImageData, index: e.SequenceIndex}
		if s.cb.OnPartial != nil {
			s.cb.OnPartial(s.artifact(e.ImageData, e.SequenceIndex, true))
		}

	case imagegen.FinalArtifact:
		if s.status == StatusCompleted {
			return
		}
		s.status = StatusCompleted
		index := 0
		if s.lastPartial != nil {
			index = s.lastPartial.index
		}
		if s.cb.OnFinal != nil {
			s.cb.OnFinal(s.artifact(e.ImageData, index, false))
		}

	case imagegen.Failure:
		s.Fail(e.Err)
	}
}

// Complete はプロバイダの完了シグナルを適用します。明示的な完成画像を
// 受信済みなら何もしません。未受信であれば最後の部分画像を完成品へ
// 昇格させます。部分画像が1枚もない完了は異常ですがUIを壊さないよう、
// ログを残して completed のまま成果物なしで終えます。
func (s *Session) Complete() {
	if s.status == StatusFailed || s.status == StatusCompleted {
		return
	}

	s.status = StatusCompleted

	if s.lastPartial == nil {
		slog.Warn("部分画像を受信しないまま生成が完了しました",
			"session_id", s.id, "response_id", s.responseID)
		return
	}

	if s.cb.OnFinal != nil {
		s.cb.OnFinal(s.artifact(s.lastPartial.data, s.lastPartial.index, false))
	}
}

// Fail はセッションを failed に遷移させます。failed は終端であり、
// 以後のイベントはすべて無視されます。リトライは行いません。
func (s *Session) Fail(err error) {
	if s.status == StatusFailed || s.status == StatusCompleted {
		return
	}
	s.status = StatusFailed
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s *Session) artifact(data []byte, index int, partial bool) domain.Artifact {
	return domain.Artifact{
		Prompt:        s.prompt,
		ImageURL:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		GeneratedAt:   time.Now(),
		IsPartial:     partial,
		SequenceIndex: index,
		ResponseID:    s.responseID,
		DesignID:      s.designID,
	}
}
