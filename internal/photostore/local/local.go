// Package local stores photos on the filesystem: one directory per city, a
// payload file and a JSON metadata sidecar per item. The city directory
// doubles as the city index.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vbonduro/travelbingo/internal/domain"
	"github.com/vbonduro/travelbingo/internal/photostore"
)

const (
	payloadExt = ".photo"
	metaExt    = ".json"
)

type meta struct {
	CityID    string    `json:"cityId"`
	ItemID    string    `json:"itemId"`
	MimeType  string    `json:"mimeType"`
	Timestamp time.Time `json:"timestamp"`
}

type Backend struct {
	basePath string
}

// Open creates basePath if needed and verifies it is writable.
func Open(basePath string) (*Backend, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, photostore.Unavailable(errors.New("no photo directory configured"))
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, photostore.Unavailable(fmt.Errorf("failed to create photo directory: %w", err))
	}
	probe, err := os.CreateTemp(basePath, ".probe-*")
	if err != nil {
		return nil, photostore.Unavailable(fmt.Errorf("photo directory not writable: %w", err))
	}
	name := probe.Name()
	_ = probe.Close()
	if err := os.Remove(name); err != nil {
		slog.Warn("failed to remove write probe", "path", name, "error", err)
	}
	return &Backend{basePath: basePath}, nil
}

func NewOpener(basePath string, logger *slog.Logger) *photostore.Opener {
	return photostore.NewOpener(func() (photostore.PhotoStore, error) {
		b, err := Open(basePath)
		if err != nil {
			return nil, err
		}
		return photostore.New(b, logger), nil
	})
}

func (b *Backend) Put(_ context.Context, photo *domain.StoredPhoto) error {
	if err := photostore.ValidKey(photo.CityID, photo.ItemID); err != nil {
		return err
	}
	dir, err := b.cityDir(photo.CityID)
	if err != nil {
		return photostore.OpFailed("put", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return photostore.OpFailed("put", fmt.Errorf("failed to create city directory: %w", err))
	}

	m, err := json.Marshal(meta{
		CityID:    photo.CityID,
		ItemID:    photo.ItemID,
		MimeType:  photo.MimeType,
		Timestamp: photo.Timestamp,
	})
	if err != nil {
		return photostore.OpFailed("put", err)
	}

	base := filepath.Join(dir, url.PathEscape(photo.ItemID))
	// Payload first: a sidecar without payload would show up in city scans.
	if err := writeFileAtomic(base+payloadExt, photo.Payload); err != nil {
		return photostore.OpFailed("put", err)
	}
	if err := writeFileAtomic(base+metaExt, m); err != nil {
		return photostore.OpFailed("put", err)
	}
	return nil
}

func (b *Backend) Fetch(_ context.Context, cityID, itemID string) (*domain.StoredPhoto, error) {
	base, err := b.itemBase(cityID, itemID)
	if err != nil {
		return nil, photostore.OpFailed("get", err)
	}

	rawMeta, err := os.ReadFile(base + metaExt)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, photostore.OpFailed("get", err)
	}
	var m meta
	if err := json.Unmarshal(rawMeta, &m); err != nil {
		return nil, photostore.OpFailed("get", fmt.Errorf("corrupt metadata: %w", err))
	}

	payload, err := os.ReadFile(base + payloadExt)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, photostore.OpFailed("get", err)
	}

	return &domain.StoredPhoto{
		CityID:    cityID,
		ItemID:    itemID,
		MimeType:  m.MimeType,
		Payload:   payload,
		Timestamp: m.Timestamp,
	}, nil
}

func (b *Backend) Remove(_ context.Context, cityID, itemID string) (bool, error) {
	base, err := b.itemBase(cityID, itemID)
	if err != nil {
		return false, photostore.OpFailed("delete", err)
	}

	// The sidecar goes first so a half-removed record is invisible.
	removed := true
	if err := os.Remove(base + metaExt); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, photostore.OpFailed("delete", err)
		}
		removed = false
	}
	if err := os.Remove(base + payloadExt); err != nil && !errors.Is(err, os.ErrNotExist) {
		return removed, photostore.OpFailed("delete", err)
	}
	return removed, nil
}

func (b *Backend) ItemIDsForCity(_ context.Context, cityID string) ([]string, error) {
	dir, err := b.cityDir(cityID)
	if err != nil {
		return nil, photostore.OpFailed("scan city", err)
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, photostore.OpFailed("scan city", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metaExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, metaExt))
		if err != nil {
			slog.Warn("skipping unrecognised photo file", "city_id", cityID, "file", name)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *Backend) cityDir(cityID string) (string, error) {
	if cityID == "" {
		return "", fmt.Errorf("empty city id")
	}
	return b.safeJoin(url.PathEscape(cityID))
}

func (b *Backend) itemBase(cityID, itemID string) (string, error) {
	if err := photostore.ValidKey(cityID, itemID); err != nil {
		return "", err
	}
	return b.safeJoin(filepath.Join(url.PathEscape(cityID), url.PathEscape(itemID)))
}

// safeJoin resolves rel against basePath and rejects directory traversal.
func (b *Backend) safeJoin(rel string) (string, error) {
	absBase, err := filepath.Abs(b.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(b.basePath, rel))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}

// writeFileAtomic replaces path in one rename so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(tmp); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(tmp); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
