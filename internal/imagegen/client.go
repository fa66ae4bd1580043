package imagegen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// HTTPステータスに対応するセンチネルエラー。Orchestrator が errors.Is で
// ユーザー向けの分類に変換します。
var (
	ErrUnauthorized        = errors.New("画像生成APIの認証に失敗しました")
	ErrInsufficientBalance = errors.New("画像生成APIの残高が不足しています")
	ErrRateLimited         = errors.New("画像生成APIのレート制限に達しました")
)

// Request は1本のストリーミング生成リクエストです。モデルやパラメータの
// 決定は呼び出し側 (QualityPolicy) が済ませてあります。
type Request struct {
	Model              string
	Prompt             string
	ConditioningImages []string // data URL または素のBase64 PNG
	PreviousResponseID string   // 編集時のみ設定
	Quality            string
	Size               string
	PartialImages      int
	Moderation         string
	InputFidelity      string
}

// StreamClient は Orchestrator が利用するストリーム生成の抽象です。
// テストではフェイク実装に差し替えます。
type StreamClient interface {
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
	GenerateTitle(ctx context.Context, prompt string) (string, error)
}

// Client は画像生成プロバイダのHTTPクライアントです。
type Client struct {
	// ストリームは長時間継続するため Timeout は設定せず、
	// 打ち切りは呼び出し側の context に委ねます。
	httpClient *http.Client
	apiURL     string
	apiKey     string
	titleModel string
}

// NewClient は画像生成プロバイダのクライアントを初期化します。
func NewClient(apiURL, apiKey, titleModel string) *Client {
	return &Client{
		httpClient: &http.Client{},
		apiURL:     apiURL,
		apiKey:     apiKey,
		titleModel: titleModel,
	}
}

// --- リクエストボディ構築 ---

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type imageTool struct {
	Type          string `json:"type"`
	Quality       string `json:"quality"`
	Size          string `json:"size"`
	PartialImages int    `json:"partial_images"`
	Moderation    string `json:"moderation"`
	InputFidelity string `json:"input_fidelity"`
}

type streamRequestBody struct {
	Model              string      `json:"model"`
	Input              any         `json:"input"`
	Stream             bool        `json:"stream"`
	PreviousResponseID string      `json:"previous_response_id,omitempty"`
	Tools              []imageTool `json:"tools"`
}

// buildBody はテキストのみなら素の文字列、参照画像があれば
// マルチパートコンテンツとして input を組み立てます。
func buildBody(req Request) streamRequestBody {
	var input any
	if len(req.ConditioningImages) == 0 {
		input = req.Prompt
	} else {
		parts := []contentPart{{Type: "input_text", Text: req.Prompt}}
		for _, img := range req.ConditioningImages {
			if !strings.HasPrefix(img, "data:") {
				img = "data:image/png;base64," + img
			}
			parts = append(parts, contentPart{
				Type:     "input_image",
				ImageURL: img,
			})
		}
		input = []map[string]any{{"role": "user", "content": parts}}
	}

	return streamRequestBody{
		Model:              req.Model,
		Input:              input,
		Stream:             true,
		PreviousResponseID: req.PreviousResponseID,
		Tools: []imageTool{{
			Type:          "image_generation",
			Quality:       req.Quality,
			Size:          req.Size,
			PartialImages: req.PartialImages,
			Moderation:    req.Moderation,
			InputFidelity: req.InputFidelity,
		}},
	}
}

// Stream はプロバイダのストリームを開き、デコード済みイベントを
// 到着順にチャネルへ流します。ストリーム途中の失敗は Failure イベント
// として配送され、その後チャネルは閉じられます。
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	body, err := json.Marshal(buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの構築に失敗しました: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("画像生成APIへの接続に失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.readStream(ctx, resp.Body, events)
	}()

	return events, nil
}

// readStream は SSE の data 行を1件ずつデコードしてチャネルへ送ります。
func (c *Client) readStream(ctx context.Context, body io.Reader, events chan<- StreamEvent) {
	scanner := bufio.NewScanner(body)
	// 部分画像のBase64は1行で数MBに達するためバッファを拡張します。
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		ev, err := DecodeEvent([]byte(payload))
		if err != nil {
			c.emit(ctx, events, Failure{Err: err})
			return
		}
		if ev == nil {
			continue
		}
		if !c.emit(ctx, events, ev) {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.emit(ctx, events, Failure{Err: fmt.Errorf("ストリームの読み取りに失敗しました: %w", err)})
	}
}

// emit は context の打ち切りを見ながらイベントを送信します。
func (c *Client) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusPaymentRequired:
		return ErrInsufficientBalance
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("画像生成APIが異常ステータスを返しました (status: %d, body: %s)",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}

// --- タイトル生成 (非ストリーミング) ---

type titleRequestBody struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Stream bool   `json:"stream"`
}

type titleResponseBody struct {
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// GenerateTitle はプロンプトから短い表示用タイトルを生成します。
// ベストエフォートの副次タスク用であり、失敗しても生成フローには影響しません。
func (c *Client) GenerateTitle(ctx context.Context, prompt string) (string, error) {
	instruction := fmt.Sprintf(
		"次のTシャツデザインの説明から、20文字以内の商品タイトルを1つだけ返してください: %s", prompt)

	body, err := json.Marshal(titleRequestBody{Model: c.titleModel, Input: instruction})
	if err != nil {
		return "", fmt.Errorf("タイトル生成リクエストの構築に失敗しました: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("タイトル生成APIへの接続に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var parsed titleResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("タイトル生成レスポンスのデコードに失敗しました: %w", err)
	}

	for _, out := range parsed.Output {
		for _, content := range out.Content {
			if content.Type == "output_text" && strings.TrimSpace(content.Text) != "" {
				return strings.TrimSpace(content.Text), nil
			}
		}
	}

	slog.Debug("タイトル生成レスポンスにテキスト出力が含まれていませんでした")
	return "", errors.New("タイトル生成結果が空でした")
}
