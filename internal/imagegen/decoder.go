package imagegen

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ワイヤーイベントの識別子。プロバイダのプロトコルに従います。
const (
	eventTypeCompleted    = "response.completed"
	eventTypeFailed       = "response.failed"
	eventTypeError        = "error"
	eventTypePartialImage = "response.image_generation_call.partial_image"
	eventTypeFinalImage   = "response.image_generation_call.completed"
)

// ProviderError はプロバイダがイベントとして報告した失敗です。
// メッセージは可能な範囲でそのままユーザーへ提示されます。
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

type rawError struct {
	Message string `json:"message"`
}

type rawResponse struct {
	ID    string    `json:"id"`
	Error *rawError `json:"error"`
}

// rawEvent はプロバイダのワイヤーイベントの受け皿です。
// 存在しないフィールドはゼロ値のまま残ります。
type rawEvent struct {
	Type              string       `json:"type"`
	PartialImageB64   string       `json:"partial_image_b64"`
	PartialImageIndex *int         `json:"partial_image_index"`
	Result            string       `json:"result"`
	Error             *rawError    `json:"error"`
	Response          *rawResponse `json:"response"`
}

// DecodeEvent は1件のワイヤーイベントを分類します。純粋関数で状態を持ちません。
//
// エラーを示すイベントは握りつぶさず error として返し、呼び出し側が
// 処理を打ち切れるようにします。未知のイベント形状はプロトコル拡張への
// 前方互換のため (nil, nil) として黙って無視します。
func DecodeEvent(data []byte) (StreamEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("イベントのJSONデコードに失敗しました: %w", err)
	}

	if msg, failed := extractErrorMessage(&raw); failed {
		return nil, &ProviderError{Message: msg}
	}

	switch {
	case raw.Type == eventTypeCompleted && raw.Response != nil && raw.Response.ID != "":
		return ResponseIdentified{ID: raw.Response.ID}, nil

	case raw.Type == eventTypePartialImage && raw.PartialImageB64 != "":
		img, err := base64.StdEncoding.DecodeString(raw.PartialImageB64)
		if err != nil {
			return nil, fmt.Errorf("部分画像のBase64デコードに失敗しました: %w", err)
		}
		index := 0
		if raw.PartialImageIndex != nil {
			index = *raw.PartialImageIndex
		}
		return PartialArtifact{ImageData: img, SequenceIndex: index}, nil

	case raw.Type == eventTypeFinalImage && raw.Result != "":
		img, err := base64.StdEncoding.DecodeString(raw.Result)
		if err != nil {
			return nil, fmt.Errorf("完成画像のBase64デコードに失敗しました: %w", err)
		}
		return FinalArtifact{ImageData: img}, nil
	}

	return nil, nil
}

// extractErrorMessage はトップレベルとレスポンス内のエラーフィールドを調べ、
// より具体的なメッセージを優先して返します。
func extractErrorMessage(raw *rawEvent) (string, bool) {
	var nested, top string
	if raw.Response != nil && raw.Response.Error != nil {
		nested = strings.TrimSpace(raw.Response.Error.Message)
	}
	if raw.Error != nil {
		top = strings.TrimSpace(raw.Error.Message)
	}

	hasError := raw.Error != nil || (raw.Response != nil && raw.Response.Error != nil) ||
		raw.Type == eventTypeError || raw.Type == eventTypeFailed
	if !hasError {
		return "", false
	}

	switch {
	case nested != "":
		return nested, true
	case top != "":
		return top, true
	default:
		return "画像生成プロバイダがエラーを返しました", true
	}
}
