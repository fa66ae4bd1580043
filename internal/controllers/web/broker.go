package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// subscriberBuffer を超えてイベントが滞留した購読者へは配送を諦めます。
// ブラウザ側は最新の部分画像だけ描画できれば十分です。
const subscriberBuffer = 16

// Broker は生成セッションのUIイベントをSSE購読者へファンアウトします。
// Orchestrator のフックが Publish を呼び、各ブラウザタブが Subscribe します。
type Broker struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[chan []byte]struct{}),
	}
}

// Subscribe は購読チャネルと解除関数を返します。解除後のチャネルは
// クローズされます。
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish はイベントをSSEフレームへ変換して全購読者へ送ります。
// バッファの溢れた購読者はスキップされます (ブロックしません)。
func (b *Broker) Publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("UIイベントのシリアライズに失敗しました", "event", eventType, "error", err)
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data))

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- frame:
		default:
			slog.Warn("購読者のバッファが溢れたためイベントを破棄します", "event", eventType)
		}
	}
}
