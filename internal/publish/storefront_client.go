package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StorefrontClient は自社ストアフロントの商品登録 API クライアントです。
type StorefrontClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewStorefrontClient はストアフロントのクライアントを初期化します。
func NewStorefrontClient(baseURL, token string) *StorefrontClient {
	return &StorefrontClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		token:   token,
	}
}

// PublishProduct はベンダー商品をストアフロントに公開し、商品ページのURLを返します。
func (c *StorefrontClient) PublishProduct(ctx context.Context, product PrintProduct, title string) (string, error) {
	params := map[string]any{
		"vendor_product_id": product.ID,
		"title":             title,
		"mockup_url":        product.MockupURL,
	}

	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/products", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

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
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return result.URL, nil
}
