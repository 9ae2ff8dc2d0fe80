package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/vbonduro/travelbingo/internal/batch"
	"github.com/vbonduro/travelbingo/internal/domain"
	"github.com/vbonduro/travelbingo/internal/generator"
	"github.com/vbonduro/travelbingo/internal/metrics"
	"github.com/vbonduro/travelbingo/internal/photostore"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrCenterItem           = errors.New("center item cannot be toggled")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrGeneratorUnavailable = errors.New("generator not configured")
)

// Usage kinds recorded per client.
const (
	KindImage       = "image"
	KindDescription = "description"
)

// Admin flow names, used in logs and metrics.
const (
	FlowFixMissingImages        = "fix-missing-images"
	FlowGenerateImages          = "generate-images"
	FlowGenerateAllDescriptions = "generate-descriptions"
)

const citiesKey = "cities"

// cityRepository is the subset of store.CityStore that BingoService requires.
type cityRepository interface {
	List(ctx context.Context) ([]*domain.City, error)
	GetByID(ctx context.Context, id string) (*domain.City, error)
	GetItem(ctx context.Context, cityID, itemID string) (*domain.BingoItem, error)
	SetCompleted(ctx context.Context, cityID, itemID string, completed bool) error
	SetImage(ctx context.Context, cityID, itemID, image string) error
	SetDescription(ctx context.Context, cityID, itemID, description string) error
	ResetCompletion(ctx context.Context, cityID string) (int64, error)
}

// usageRepository is the subset of store.UsageStore that BingoService requires.
type usageRepository interface {
	Record(ctx context.Context, clientID, kind string) error
}

// photoOpener lazily yields the photo store; see photostore.Opener.
type photoOpener interface {
	Open() (photostore.PhotoStore, error)
}

type Options struct {
	// Batch is the base configuration for admin flows. Refresh is set per flow.
	Batch    batch.Options
	CacheTTL time.Duration
	// ServerClientID is reported as the client for server-driven flows.
	ServerClientID string
}

type GenerateRequest struct {
	CityID        string
	ItemID        string
	ItemText      string
	Description   string
	ClientID      string
	ForceNewImage bool
}

type BingoService struct {
	cities  cityRepository
	usage   usageRepository
	photos  photoOpener
	images  generator.ImageGenerator
	writer  generator.DescriptionWriter
	cache   *cache.Cache
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBingoService wires the game service. images and writer may be nil when
// the corresponding API key is not configured; generation then fails with
// ErrGeneratorUnavailable.
func NewBingoService(
	cities cityRepository,
	usage usageRepository,
	photos photoOpener,
	images generator.ImageGenerator,
	writer generator.DescriptionWriter,
	opts Options,
	m *metrics.Metrics,
	logger *slog.Logger,
) *BingoService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &BingoService{
		cities:  cities,
		usage:   usage,
		photos:  photos,
		images:  images,
		writer:  writer,
		cache:   cache.New(opts.CacheTTL, opts.CacheTTL*2),
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

func cityKey(id string) string { return "city:" + id }

func (s *BingoService) ListCities(ctx context.Context) ([]*domain.City, error) {
	if cached, found := s.cache.Get(citiesKey); found {
		return cached.([]*domain.City), nil
	}

	cities, err := s.cities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}
	s.cache.Set(citiesKey, cities, cache.DefaultExpiration)
	return cities, nil
}

func (s *BingoService) GetCity(ctx context.Context, cityID string) (*domain.City, error) {
	if cached, found := s.cache.Get(cityKey(cityID)); found {
		return cached.(*domain.City), nil
	}

	city, err := s.cities.GetByID(ctx, cityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get city: %w", err)
	}
	if city == nil {
		return nil, fmt.Errorf("city %q: %w", cityID, ErrNotFound)
	}
	s.cache.Set(cityKey(cityID), city, cache.DefaultExpiration)
	return city, nil
}

// Refresh evicts the cached city and reloads it from the store.
func (s *BingoService) Refresh(ctx context.Context, cityID string) error {
	s.evict(cityID)
	_, err := s.GetCity(ctx, cityID)
	return err
}

func (s *BingoService) evict(cityID string) {
	s.cache.Delete(cityKey(cityID))
	s.cache.Delete(citiesKey)
}

func (s *BingoService) getItem(ctx context.Context, cityID, itemID string) (*domain.BingoItem, error) {
	item, err := s.cities.GetItem(ctx, cityID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("item %q of city %q: %w", itemID, cityID, ErrNotFound)
	}
	return item, nil
}

// ToggleItem flips the completion flag and returns the updated item.
func (s *BingoService) ToggleItem(ctx context.Context, cityID, itemID string) (*domain.BingoItem, error) {
	item, err := s.getItem(ctx, cityID, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsCenter {
		return nil, ErrCenterItem
	}

	if err := s.cities.SetCompleted(ctx, cityID, itemID, !item.Completed); err != nil {
		return nil, fmt.Errorf("failed to toggle item: %w", err)
	}
	s.evict(cityID)

	item.Completed = !item.Completed
	return item, nil
}

// ResetCity clears completion for every item of the city and deletes its
// photos. It returns the number of photos removed.
func (s *BingoService) ResetCity(ctx context.Context, cityID string) (int, error) {
	if _, err := s.GetCity(ctx, cityID); err != nil {
		return 0, err
	}

	cleared, err := s.cities.ResetCompletion(ctx, cityID)
	if err != nil {
		return 0, err
	}
	s.evict(cityID)

	photos, err := s.photos.Open()
	if err != nil {
		s.logger.Warn("photo storage unavailable during reset", "city_id", cityID, "error", err)
		return 0, nil
	}
	removed := photos.DeleteAllForCity(ctx, cityID)
	s.metrics.ObservePhotosRemoved(removed)

	s.logger.Info("city reset", "city_id", cityID, "items_cleared", cleared, "photos_removed", removed)
	return removed, nil
}

func (s *BingoService) SavePhoto(ctx context.Context, cityID, itemID, mimeType string, payload []byte) error {
	if _, err := s.getItem(ctx, cityID, itemID); err != nil {
		return err
	}
	photos, err := s.photos.Open()
	if err != nil {
		return err
	}

	ok := photos.Save(ctx, cityID, itemID, mimeType, payload)
	s.metrics.ObservePhoto("save", ok)
	if !ok {
		return photostore.ErrStorageOperationFailed
	}
	s.logger.Debug("photo saved", "city_id", cityID, "item_id", itemID, "bytes", len(payload))
	return nil
}

func (s *BingoService) GetPhoto(ctx context.Context, cityID, itemID string) (*domain.StoredPhoto, error) {
	photos, err := s.photos.Open()
	if err != nil {
		return nil, err
	}

	photo, ok := photos.Get(ctx, cityID, itemID)
	if !ok {
		return nil, fmt.Errorf("photo for %q: %w", domain.PhotoKey(cityID, itemID), ErrNotFound)
	}
	return photo, nil
}

func (s *BingoService) DeletePhoto(ctx context.Context, cityID, itemID string) error {
	photos, err := s.photos.Open()
	if err != nil {
		return err
	}

	ok := photos.Delete(ctx, cityID, itemID)
	s.metrics.ObservePhoto("delete", ok)
	if !ok {
		return photostore.ErrStorageOperationFailed
	}
	return nil
}

func (s *BingoService) prompt(ctx context.Context, req GenerateRequest, item *domain.BingoItem) generator.Prompt {
	p := generator.Prompt{ItemText: req.ItemText, Description: req.Description}
	if strings.TrimSpace(p.ItemText) == "" {
		p.ItemText = item.Text
	}
	if p.Description == "" {
		p.Description = item.Description
	}
	if city, err := s.GetCity(ctx, req.CityID); err == nil {
		p.CityTitle = city.Title
	}
	return p
}

func validate(req GenerateRequest) error {
	if strings.TrimSpace(req.CityID) == "" || strings.TrimSpace(req.ItemID) == "" {
		return fmt.Errorf("%w: cityId and itemId are required", ErrInvalidRequest)
	}
	return nil
}

// GenerateImage produces an image for the item and stores its URL. An item
// that already has a resolved image keeps it unless ForceNewImage is set.
func (s *BingoService) GenerateImage(ctx context.Context, req GenerateRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	item, err := s.getItem(ctx, req.CityID, req.ItemID)
	if err != nil {
		return "", err
	}
	if !req.ForceNewImage && !item.NeedsImage() {
		s.logger.Debug("image already present", "city_id", req.CityID, "item_id", req.ItemID)
		return item.Image, nil
	}
	if s.images == nil {
		return "", ErrGeneratorUnavailable
	}

	url, err := s.images.GenerateImage(ctx, s.prompt(ctx, req, item))
	s.metrics.ObserveGeneration(KindImage, err)
	if err != nil {
		return "", fmt.Errorf("failed to generate image: %w", err)
	}

	if err := s.cities.SetImage(ctx, req.CityID, req.ItemID, url); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	s.evict(req.CityID)
	s.recordUsage(ctx, req.ClientID, KindImage)

	s.logger.Info("image generated", "city_id", req.CityID, "item_id", req.ItemID, "forced", req.ForceNewImage)
	return url, nil
}

// GenerateDescription produces descriptive text for the item and stores it.
func (s *BingoService) GenerateDescription(ctx context.Context, req GenerateRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	item, err := s.getItem(ctx, req.CityID, req.ItemID)
	if err != nil {
		return "", err
	}
	if s.writer == nil {
		return "", ErrGeneratorUnavailable
	}

	// The existing description is what gets replaced, so it is not context.
	p := s.prompt(ctx, req, item)
	p.Description = ""
	text, err := s.writer.Describe(ctx, p)
	s.metrics.ObserveGeneration(KindDescription, err)
	if err != nil {
		return "", fmt.Errorf("failed to generate description: %w", err)
	}

	if err := s.cities.SetDescription(ctx, req.CityID, req.ItemID, text); err != nil {
		return "", fmt.Errorf("failed to store description: %w", err)
	}
	s.evict(req.CityID)
	s.recordUsage(ctx, req.ClientID, KindDescription)

	s.logger.Info("description generated", "city_id", req.CityID, "item_id", req.ItemID)
	return text, nil
}

func (s *BingoService) recordUsage(ctx context.Context, clientID, kind string) {
	if clientID == "" {
		return
	}
	if err := s.usage.Record(ctx, clientID, kind); err != nil {
		s.logger.Warn("failed to record usage", "client_id", clientID, "kind", kind, "error", err)
	}
}
