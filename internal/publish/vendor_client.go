// Package publish は完成デザインをオンデマンド印刷ベンダーに入稿し、
// ストアフロントへ出品するパイプラインを提供します。
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// PrintProduct は印刷ベンダー側で作成された商品を表します。
type PrintProduct struct {
	ID        string `json:"id"`
	MockupURL string `json:"mockup_url"`
}

// VendorClient は印刷ベンダー API のクライアントです。
type VendorClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewVendorClient は印刷ベンダーのクライアントを初期化します。
func NewVendorClient(baseURL, apiKey string) *VendorClient {
	return &VendorClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// UploadArtwork はデザイン画像を multipart で入稿し、アートワークIDを返します。
func (c *VendorClient) UploadArtwork(ctx context.Context, filename string, r io.Reader) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("artwork", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to copy artwork data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/artworks", body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("vendor returned an empty artwork ID")
	}
	return result.ID, nil
}

// CreateProduct はアップロード済みのアートワークからTシャツ商品を作成します。
func (c *VendorClient) CreateProduct(ctx context.Context, artworkID, title, garmentColor string) (PrintProduct, error) {
	params := map[string]any{
		"artwork_id":   artworkID,
		"title":        title,
		"product_type": "t-shirt",
		"color":        garmentColor,
		"placement":    "front-center",
	}

	data, err := json.Marshal(params)
	if err != nil {
		return PrintProduct{}, fmt.Errorf("failed to marshal params: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/products", bytes.NewReader(data))
	if err != nil {
		return PrintProduct{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PrintProduct{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return PrintProduct{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(respBody))
	}

	var product PrintProduct
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return PrintProduct{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return product, nil
}
