// Package seed loads the bundled city definitions into an empty database.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/vbonduro/travelbingo/internal/domain"
)

//go:embed cities.yaml
var bundled []byte

type file struct {
	Cities []cityDef `yaml:"cities"`
}

type cityDef struct {
	ID       string    `yaml:"id"`
	Title    string    `yaml:"title"`
	Subtitle string    `yaml:"subtitle"`
	Items    []itemDef `yaml:"items"`
	Tips     []tipDef  `yaml:"tips"`
}

type itemDef struct {
	ID          string `yaml:"id"`
	Text        string `yaml:"text"`
	Description string `yaml:"description"`
	Image       string `yaml:"image"`
	Center      bool   `yaml:"center"`
	Row         *int   `yaml:"row"`
	Col         *int   `yaml:"col"`
}

type tipDef struct {
	Title string `yaml:"title"`
	Text  string `yaml:"text"`
}

// cityRepository is the subset of store.CityStore the seeder requires.
type cityRepository interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, city *domain.City) error
}

// Bundled parses the embedded cities.
func Bundled() ([]*domain.City, error) {
	return Parse(bundled)
}

// Parse decodes a cities document. Unknown fields are rejected.
func Parse(data []byte) ([]*domain.City, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse cities: %w", err)
	}

	cities := make([]*domain.City, 0, len(f.Cities))
	seen := make(map[string]bool, len(f.Cities))
	for _, def := range f.Cities {
		if def.ID == "" {
			return nil, fmt.Errorf("city %q has no id", def.Title)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate city id %q", def.ID)
		}
		seen[def.ID] = true

		city := &domain.City{ID: def.ID, Title: def.Title, Subtitle: def.Subtitle}
		itemIDs := make(map[string]bool, len(def.Items))
		for _, it := range def.Items {
			if it.ID == "" || itemIDs[it.ID] {
				return nil, fmt.Errorf("city %q: missing or duplicate item id %q", def.ID, it.ID)
			}
			itemIDs[it.ID] = true
			if !domain.ValidImageRef(it.Image) {
				return nil, fmt.Errorf("city %q item %q: invalid image %q", def.ID, it.ID, it.Image)
			}
			city.Items = append(city.Items, &domain.BingoItem{
				ID:          it.ID,
				CityID:      def.ID,
				Text:        it.Text,
				Description: it.Description,
				Image:       it.Image,
				IsCenter:    it.Center,
				Row:         it.Row,
				Col:         it.Col,
			})
		}
		for _, tip := range def.Tips {
			city.Tips = append(city.Tips, domain.Tip{Title: tip.Title, Text: tip.Text})
		}
		cities = append(cities, city)
	}
	return cities, nil
}

// Apply inserts cities when the repository is empty and reports how many
// were written. A city without exactly one center item is loaded anyway,
// with a warning.
func Apply(ctx context.Context, repo cityRepository, cities []*domain.City, logger *slog.Logger) (int, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count cities: %w", err)
	}
	if n > 0 {
		logger.Debug("cities already present, skipping seed", "count", n)
		return 0, nil
	}

	for _, city := range cities {
		if centers := len(city.CenterItems()); centers != 1 {
			logger.Warn("city should have exactly one center item", "city_id", city.ID, "centers", centers)
		}

		if err := repo.Create(ctx, city); err != nil {
			return 0, fmt.Errorf("failed to seed city %s: %w", city.ID, err)
		}
	}

	logger.Info("seeded cities", "count", len(cities))
	return len(cities), nil
}
