package service

import (
	"context"
	"log/slog"

	"github.com/vbonduro/travelbingo/internal/batch"
	"github.com/vbonduro/travelbingo/internal/domain"
)

func itemKey(item *domain.BingoItem) string { return item.ID }

// FixMissingImages generates images, one item at a time with retries, for
// every item of the city that has none.
func (s *BingoService) FixMissingImages(ctx context.Context, cityID string) (<-chan batch.Event, error) {
	city, err := s.GetCity(ctx, cityID)
	if err != nil {
		return nil, err
	}

	var items []*domain.BingoItem
	for _, item := range city.Items {
		if item.NeedsImage() {
			items = append(items, item)
		}
	}

	runner := s.runner(FlowFixMissingImages, cityID, func(ctx context.Context, item *domain.BingoItem) error {
		_, err := s.GenerateImage(ctx, GenerateRequest{
			CityID:   cityID,
			ItemID:   item.ID,
			ItemText: item.Text,
			ClientID: s.opts.ServerClientID,
		})
		return err
	})
	return s.observe(FlowFixMissingImages, cityID, len(items), runner.Sequential(ctx, items)), nil
}

// GenerateAllImages regenerates the image of every non-center item in
// concurrent groups.
func (s *BingoService) GenerateAllImages(ctx context.Context, cityID string) (<-chan batch.Event, error) {
	city, err := s.GetCity(ctx, cityID)
	if err != nil {
		return nil, err
	}

	var items []*domain.BingoItem
	for _, item := range city.Items {
		if !item.IsCenter {
			items = append(items, item)
		}
	}

	runner := s.runner(FlowGenerateImages, cityID, func(ctx context.Context, item *domain.BingoItem) error {
		_, err := s.GenerateImage(ctx, GenerateRequest{
			CityID:        cityID,
			ItemID:        item.ID,
			ItemText:      item.Text,
			Description:   item.Description,
			ClientID:      s.opts.ServerClientID,
			ForceNewImage: true,
		})
		return err
	})
	return s.observe(FlowGenerateImages, cityID, len(items), runner.Batched(ctx, items)), nil
}

// GenerateAllDescriptions writes descriptions for items that lack one, in
// concurrent groups.
func (s *BingoService) GenerateAllDescriptions(ctx context.Context, cityID string) (<-chan batch.Event, error) {
	city, err := s.GetCity(ctx, cityID)
	if err != nil {
		return nil, err
	}

	var items []*domain.BingoItem
	for _, item := range city.Items {
		if item.NeedsDescription() {
			items = append(items, item)
		}
	}

	runner := s.runner(FlowGenerateAllDescriptions, cityID, func(ctx context.Context, item *domain.BingoItem) error {
		_, err := s.GenerateDescription(ctx, GenerateRequest{
			CityID:   cityID,
			ItemID:   item.ID,
			ItemText: item.Text,
			ClientID: s.opts.ServerClientID,
		})
		return err
	})
	return s.observe(FlowGenerateAllDescriptions, cityID, len(items), runner.Batched(ctx, items)), nil
}

func (s *BingoService) runner(flow, cityID string, generate batch.GenerateFunc[*domain.BingoItem]) *batch.Runner[*domain.BingoItem] {
	opts := s.opts.Batch
	opts.Refresh = func(ctx context.Context) error {
		return s.Refresh(ctx, cityID)
	}
	return batch.New(generate, itemKey, opts, s.logger.With("flow", flow, "city_id", cityID))
}

// observe forwards events unchanged while counting item outcomes. The output
// is buffered like the runner's, so an abandoned reader never blocks it.
func (s *BingoService) observe(flow, cityID string, n int, events <-chan batch.Event) <-chan batch.Event {
	out := make(chan batch.Event, n+2)
	go func() {
		defer close(out)
		for ev := range events {
			switch ev.Kind {
			case batch.EventProgress:
				s.metrics.ObserveBatchItem(flow, ev.Err == nil)
			case batch.EventCompleted:
				s.logger.Info("admin flow finished",
					slog.String("flow", flow),
					slog.String("city_id", cityID),
					slog.Int("succeeded", ev.Summary.Succeeded),
					slog.Int("failed", ev.Summary.Failed))
			}
			out <- ev
		}
	}()
	return out
}
