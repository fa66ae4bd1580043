// Package store はデザイン (完成画像とメタデータ) の永続化を担います。
// 画像本体は PNG オブジェクトとして、メタデータは単一の index.json として
// GCS に保存します。
package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"ap-tee-studio/internal/config"
	"ap-tee-studio/internal/domain"
)

// ErrNotFound は指定されたデザインが存在しない場合に返されます。
var ErrNotFound = errors.New("design not found")

const indexFileName = "index.json"

// ObjectReader はストレージからの読み出しに必要な操作だけを宣言します。
type ObjectReader interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// ObjectWriter はストレージへの書き込みに必要な操作だけを宣言します。
type ObjectWriter interface {
	Write(ctx context.Context, path string, r io.Reader, contentType string) error
}

// URLSigner は閲覧用の署名付きURLを発行します。
type URLSigner interface {
	GenerateSignedURL(ctx context.Context, path string, method string, expiry time.Duration) (string, error)
}

// DesignStore はデザインの保存・一覧・更新を提供します。
// index.json の読み書き (load→write) は内部のミューテックスで直列化される
// ため、保存と切り離されたタイトル更新が並行しても更新は失われません。
type DesignStore struct {
	reader ObjectReader
	writer ObjectWriter
	signer URLSigner
	cfg    *config.Config

	// mu は index.json の read-modify-write を直列化します。
	mu sync.Mutex
}

// NewDesignStore は DesignStore を初期化します。
func NewDesignStore(reader ObjectReader, writer ObjectWriter, signer URLSigner, cfg *config.Config) *DesignStore {
	return &DesignStore{
		reader: reader,
		writer: writer,
		signer: signer,
		cfg:    cfg,
	}
}

// Save は成果物を新しいデザインとして保存し、デザインIDを返します。
// 成果物の DesignID が既存デザインを指す場合は新バージョンとして追記します。
func (s *DesignStore) Save(ctx context.Context, a domain.Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now()

	if a.DesignID != "" {
		for i := range index {
			if index[i].ID == a.DesignID {
				return s.saveVersion(ctx, index, i, a, now)
			}
		}
		slog.Warn("継続元のデザインが見つからないため新規デザインとして保存します",
			"design_id", a.DesignID)
	}

	id := newDesignID(now)
	imagePath, err := s.writeImage(ctx, id, 1, a.ImageURL)
	if err != nil {
		return "", err
	}

	index = append(index, domain.Design{
		ID:         id,
		Prompt:     a.Prompt,
		ResponseID: a.ResponseID,
		ImagePath:  imagePath,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	})

	index = s.evict(index)

	if err := s.writeIndex(ctx, index); err != nil {
		return "", err
	}
	slog.Info("デザインを保存しました", "design_id", id, "image_path", imagePath)
	return id, nil
}

// saveVersion は既存デザインに新しいバージョンの画像を追記します。
func (s *DesignStore) saveVersion(ctx context.Context, index []domain.Design, i int, a domain.Artifact, now time.Time) (string, error) {
	d := index[i]
	version := d.Version + 1

	imagePath, err := s.writeImage(ctx, d.ID, version, a.ImageURL)
	if err != nil {
		return "", err
	}

	d.Prompt = a.Prompt
	d.ResponseID = a.ResponseID
	d.ImagePath = imagePath
	d.Version = version
	d.UpdatedAt = now
	index[i] = d

	if err := s.writeIndex(ctx, index); err != nil {
		return "", err
	}
	slog.Info("デザインの新バージョンを保存しました",
		"design_id", d.ID, "version", version, "image_path", imagePath)
	return d.ID, nil
}

// List は全デザインを更新日時の降順で返します。
func (s *DesignStore) List(ctx context.Context) ([]domain.Design, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(index, func(a, b int) bool {
		return index[a].UpdatedAt.After(index[b].UpdatedAt)
	})
	return index, nil
}

// Get は指定IDのデザインを返します。
func (s *DesignStore) Get(ctx context.Context, designID string) (domain.Design, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex(ctx)
	if err != nil {
		return domain.Design{}, err
	}
	for _, d := range index {
		if d.ID == designID {
			return d, nil
		}
	}
	return domain.Design{}, fmt.Errorf("%w: %s", ErrNotFound, designID)
}

// UpdateTitle はデザインの表示タイトルを更新します。
func (s *DesignStore) UpdateTitle(ctx context.Context, designID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].ID == designID {
			index[i].Title = title
			index[i].UpdatedAt = time.Now()
			return s.writeIndex(ctx, index)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, designID)
}

// SignedImageURL はデザイン画像の閲覧用署名付きURLを発行します。
func (s *DesignStore) SignedImageURL(ctx context.Context, d domain.Design) (string, error) {
	u, err := s.signer.GenerateSignedURL(ctx, d.ImagePath, http.MethodGet, config.SignedURLExpiration)
	if err != nil {
		return "", fmt.Errorf("failed to sign image URL for %s: %w", d.ID, err)
	}
	return u, nil
}

// OpenImage はデザイン画像の生データを開きます。印刷ベンダーへの
// アップロードで使用します。
func (s *DesignStore) OpenImage(ctx context.Context, d domain.Design) (io.ReadCloser, error) {
	rc, err := s.reader.Open(ctx, d.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image for %s: %w", d.ID, err)
	}
	return rc, nil
}

// --- 内部処理 ---

func (s *DesignStore) indexPath() string {
	return s.cfg.GetGCSObjectURL(path.Join(s.cfg.BaseOutputDir, indexFileName))
}

func (s *DesignStore) loadIndex(ctx context.Context) ([]domain.Design, error) {
	rc, err := s.reader.Open(ctx, s.indexPath())
	if err != nil {
		// 初回は index.json が存在しないため空の一覧から始めます。
		// 不存在以外の読み出し失敗で空を返すと、続く writeIndex が
		// 既存の履歴ごと索引を上書きしてしまうためエラーにします。
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, os.ErrNotExist) {
			slog.Debug("デザイン索引が未作成のため空とみなします", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open design index: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read design index: %w", err)
	}
	var index []domain.Design
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse design index: %w", err)
	}
	return index, nil
}

func (s *DesignStore) writeIndex(ctx context.Context, index []domain.Design) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal design index: %w", err)
	}
	if err := s.writer.Write(ctx, s.indexPath(), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("failed to write design index: %w", err)
	}
	return nil
}

// writeImage は data URL 形式の画像をデコードして PNG として保存し、
// オブジェクトパスを返します。
func (s *DesignStore) writeImage(ctx context.Context, designID string, version int, imageURL string) (string, error) {
	raw, err := decodeDataURL(imageURL)
	if err != nil {
		return "", err
	}

	rel := path.Join(s.cfg.GetWorkDir(designID), fmt.Sprintf("v%03d.png", version))
	objPath := s.cfg.GetGCSObjectURL(rel)

	if err := s.writer.Write(ctx, objPath, bytes.NewReader(raw), "image/png"); err != nil {
		return "", fmt.Errorf("failed to write design image: %w", err)
	}
	return objPath, nil
}

// evict は上限を超えた場合に最も古いデザインを索引から落とします。
// オブジェクト本体は残りますが、索引から外れた時点で到達不能になります。
func (s *DesignStore) evict(index []domain.Design) []domain.Design {
	max := s.cfg.MaxHistory
	if max <= 0 || len(index) <= max {
		return index
	}
	sort.Slice(index, func(a, b int) bool {
		return index[a].UpdatedAt.Before(index[b].UpdatedAt)
	})
	evicted := index[:len(index)-max]
	for _, d := range evicted {
		slog.Info("履歴上限を超えたデザインを索引から除外します", "design_id", d.ID)
	}
	return index[len(index)-max:]
}

func decodeDataURL(imageURL string) ([]byte, error) {
	_, b64, ok := strings.Cut(imageURL, ";base64,")
	if !ok {
		return nil, fmt.Errorf("unsupported image URL format")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	return raw, nil
}

func newDesignID(t time.Time) string {
	return fmt.Sprintf("%s-%s", t.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
