// Package photostore keeps user-captured photos addressable by (city, item).
//
// Public operations never fail the caller's flow: record-level failures are
// logged and reported as false or a zero count, so a photo that cannot be
// persisted is simply missing. Only opening the store can fail, with
// ErrStorageUnavailable.
package photostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/travelbingo/internal/domain"
)

var (
	ErrStorageUnavailable     = errors.New("persistent photo storage unavailable")
	ErrStorageOperationFailed = errors.New("photo storage operation failed")
)

type PhotoStore interface {
	// Save upserts the payload for (cityID, itemID) and stamps the current time.
	Save(ctx context.Context, cityID, itemID, mimeType string, payload []byte) bool
	// Get returns the stored photo, or (nil, false) when none exists.
	Get(ctx context.Context, cityID, itemID string) (*domain.StoredPhoto, bool)
	// Delete removes one record; removing an absent record succeeds.
	Delete(ctx context.Context, cityID, itemID string) bool
	// DeleteAllForCity removes every record of cityID and returns how many
	// were actually removed.
	DeleteAllForCity(ctx context.Context, cityID string) int
}

// Backend is the error-returning storage engine behind a PhotoStore. Every
// method is its own transaction.
type Backend interface {
	Put(ctx context.Context, photo *domain.StoredPhoto) error
	// Fetch returns nil, nil when the record is absent.
	Fetch(ctx context.Context, cityID, itemID string) (*domain.StoredPhoto, error)
	// Remove reports whether a record existed.
	Remove(ctx context.Context, cityID, itemID string) (bool, error)
	// ItemIDsForCity scans the city index.
	ItemIDsForCity(ctx context.Context, cityID string) ([]string, error)
}

// Opener hands out a single store handle no matter how many goroutines call
// Open, so the schema is created at most once. A failed open is not cached;
// the next call tries again.
type Opener struct {
	mu    sync.Mutex
	open  func() (PhotoStore, error)
	store PhotoStore
}

func NewOpener(open func() (PhotoStore, error)) *Opener {
	return &Opener{open: open}
}

func (o *Opener) Open() (PhotoStore, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.store != nil {
		return o.store, nil
	}
	s, err := o.open()
	if err != nil {
		return nil, err
	}
	o.store = s
	return s, nil
}

type store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New wraps a backend with the never-fail public contract.
func New(backend Backend, logger *slog.Logger) PhotoStore {
	return &store{backend: backend, logger: logger, now: time.Now}
}

func (s *store) Save(ctx context.Context, cityID, itemID, mimeType string, payload []byte) bool {
	err := s.backend.Put(ctx, &domain.StoredPhoto{
		CityID:    cityID,
		ItemID:    itemID,
		MimeType:  mimeType,
		Payload:   payload,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to save photo", "city_id", cityID, "item_id", itemID, "error", err)
		return false
	}
	s.logger.Debug("photo saved", "city_id", cityID, "item_id", itemID, "bytes", len(payload))
	return true
}

func (s *store) Get(ctx context.Context, cityID, itemID string) (*domain.StoredPhoto, bool) {
	photo, err := s.backend.Fetch(ctx, cityID, itemID)
	if err != nil {
		s.logger.Error("failed to get photo", "city_id", cityID, "item_id", itemID, "error", err)
		return nil, false
	}
	if photo == nil {
		return nil, false
	}
	return photo, true
}

func (s *store) Delete(ctx context.Context, cityID, itemID string) bool {
	if _, err := s.backend.Remove(ctx, cityID, itemID); err != nil {
		s.logger.Error("failed to delete photo", "city_id", cityID, "item_id", itemID, "error", err)
		return false
	}
	return true
}

func (s *store) DeleteAllForCity(ctx context.Context, cityID string) int {
	itemIDs, err := s.backend.ItemIDsForCity(ctx, cityID)
	if err != nil {
		s.logger.Error("failed to list photos for city", "city_id", cityID, "error", err)
		return 0
	}

	deleted := 0
	for _, itemID := range itemIDs {
		removed, err := s.backend.Remove(ctx, cityID, itemID)
		if err != nil {
			s.logger.Error("failed to delete photo, continuing", "city_id", cityID, "item_id", itemID, "error", err)
			continue
		}
		if removed {
			deleted++
		}
	}
	s.logger.Info("photos deleted for city", "city_id", cityID, "matched", len(itemIDs), "deleted", deleted)
	return deleted
}

// OpFailed wraps err so callers can match ErrStorageOperationFailed.
func OpFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageOperationFailed, op, err)
}

// Unavailable wraps err so callers can match ErrStorageUnavailable.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// ValidKey rejects ids that cannot address a record.
func ValidKey(cityID, itemID string) error {
	for _, id := range []string{cityID, itemID} {
		if id == "" || id == "." || id == ".." {
			return fmt.Errorf("%w: invalid key %q", ErrStorageOperationFailed, domain.PhotoKey(cityID, itemID))
		}
	}
	return nil
}
