// Package storage はアップロードされたファイル（本のカバー画像）をローカルに保存する
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const DefaultMaxBytes = 5 << 20

var (
	ErrUnsupportedType = errors.New("storage: unsupported file type")
	ErrTooLarge        = errors.New("storage: file too large")
	ErrNotFound        = errors.New("storage: file not found")
)

var allowedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

type Local struct {
	root     string
	maxBytes int64
}

func NewLocal(root string, maxBytes int64) (*Local, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("アップロード先の作成に失敗: %w", err)
	}
	return &Local{root: root, maxBytes: maxBytes}, nil
}

// Save は users/<ownerID>/<uuid>.<ext> に書き込み、root からの相対パスを返す
func (l *Local) Save(ctx context.Context, ownerID, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExt[ext]; !ok {
		return "", ErrUnsupportedType
	}
	if ownerID == "" || strings.ContainsAny(ownerID, `/\.`) {
		return "", fmt.Errorf("storage: invalid owner id %q", ownerID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rel := filepath.ToSlash(filepath.Join("users", ownerID, uuid.NewString()+ext))
	full := filepath.Join(l.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(r, l.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > l.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(full)
		return "", err
	}
	return rel, nil
}

// Open は Save が返した相対パスを開く。Content-Type も返す
func (l *Local) Open(rel string) (io.ReadCloser, string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, "", ErrNotFound
	}
	f, err := os.Open(filepath.Join(l.root, clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return f, allowedExt[strings.ToLower(filepath.Ext(clean))], nil
}

// Remove は置き換え前の古いファイルを消す。無ければ何もしない
func (l *Local) Remove(rel string) error {
	if rel == "" {
		return nil
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return ErrNotFound
	}
	err := os.Remove(filepath.Join(l.root, clean))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
