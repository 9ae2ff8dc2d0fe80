package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vbonduro/travelbingo/internal/domain"
)

// ErrInvalidImage is returned when an image reference is neither empty, the
// placeholder, nor a resolvable URL.
var ErrInvalidImage = errors.New("invalid image reference")

type CityStore struct {
	db *sql.DB
}

func NewCityStore(db *sql.DB) *CityStore {
	return &CityStore{db: db}
}

// Create inserts a city with its items and tips in one transaction.
func (s *CityStore) Create(ctx context.Context, city *domain.City) error {
	for _, item := range city.Items {
		if !domain.ValidImageRef(item.Image) {
			return fmt.Errorf("item %s: %w", item.ID, ErrInvalidImage)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cities (id, title, subtitle, position)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM cities))
	`, city.ID, city.Title, city.Subtitle); err != nil {
		return fmt.Errorf("failed to create city: %w", err)
	}

	for pos, item := range city.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO items (city_id, id, position, text, completed, description, image, is_center, grid_row, grid_col)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, city.ID, item.ID, pos, item.Text, item.Completed, nullString(item.Description), nullString(item.Image),
			item.IsCenter, item.Row, item.Col); err != nil {
			return fmt.Errorf("failed to create item %s: %w", item.ID, err)
		}
	}

	for pos, tip := range city.Tips {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tips (city_id, position, title, text) VALUES (?, ?, ?, ?)
		`, city.ID, pos, tip.Title, tip.Text); err != nil {
			return fmt.Errorf("failed to create tip: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit city: %w", err)
	}
	return nil
}

func (s *CityStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cities: %w", err)
	}
	return n, nil
}

// List returns every city in display order with items and tips loaded.
func (s *CityStore) List(ctx context.Context) ([]*domain.City, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, subtitle FROM cities ORDER BY position ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}

	var cities []*domain.City
	for rows.Next() {
		city := &domain.City{}
		if err := rows.Scan(&city.ID, &city.Title, &city.Subtitle); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan city: %w", err)
		}
		cities = append(cities, city)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating cities: %w", err)
	}
	// Close before loading children; the test pool has a single connection.
	if err := rows.Close(); err != nil {
		slog.Error("failed to close rows", "error", err)
	}

	for _, city := range cities {
		if err := s.loadChildren(ctx, city); err != nil {
			return nil, err
		}
	}
	return cities, nil
}

func (s *CityStore) GetByID(ctx context.Context, id string) (*domain.City, error) {
	city := &domain.City{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, subtitle FROM cities WHERE id = ?
	`, id).Scan(&city.ID, &city.Title, &city.Subtitle)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get city: %w", err)
	}

	if err := s.loadChildren(ctx, city); err != nil {
		return nil, err
	}
	return city, nil
}

func (s *CityStore) loadChildren(ctx context.Context, city *domain.City) error {
	items, err := s.ListItems(ctx, city.ID)
	if err != nil {
		return err
	}
	city.Items = items

	tips, err := s.listTips(ctx, city.ID)
	if err != nil {
		return err
	}
	city.Tips = tips
	return nil
}

const itemColumns = `city_id, id, text, completed, description, image, is_center, grid_row, grid_col`

func scanItem(sc interface{ Scan(...any) error }) (*domain.BingoItem, error) {
	item := &domain.BingoItem{}
	var description, image sql.NullString
	var row, col sql.NullInt64
	if err := sc.Scan(&item.CityID, &item.ID, &item.Text, &item.Completed, &description, &image,
		&item.IsCenter, &row, &col); err != nil {
		return nil, err
	}
	item.Description = description.String
	item.Image = image.String
	if row.Valid {
		r := int(row.Int64)
		item.Row = &r
	}
	if col.Valid {
		c := int(col.Int64)
		item.Col = &c
	}
	return item, nil
}

func (s *CityStore) ListItems(ctx context.Context, cityID string) ([]*domain.BingoItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE city_id = ? ORDER BY position ASC
	`, cityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var items []*domain.BingoItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

func (s *CityStore) GetItem(ctx context.Context, cityID, itemID string) (*domain.BingoItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE city_id = ? AND id = ?
	`, cityID, itemID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (s *CityStore) listTips(ctx context.Context, cityID string) ([]domain.Tip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, text FROM tips WHERE city_id = ? ORDER BY position ASC
	`, cityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tips: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var tips []domain.Tip
	for rows.Next() {
		var tip domain.Tip
		if err := rows.Scan(&tip.Title, &tip.Text); err != nil {
			return nil, fmt.Errorf("failed to scan tip: %w", err)
		}
		tips = append(tips, tip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tips: %w", err)
	}
	return tips, nil
}

func (s *CityStore) SetCompleted(ctx context.Context, cityID, itemID string, completed bool) error {
	return s.updateItem(ctx, "completion", `completed = ?`, completed, cityID, itemID)
}

func (s *CityStore) SetImage(ctx context.Context, cityID, itemID, image string) error {
	if !domain.ValidImageRef(image) {
		return ErrInvalidImage
	}
	return s.updateItem(ctx, "image", `image = ?`, nullString(image), cityID, itemID)
}

func (s *CityStore) SetDescription(ctx context.Context, cityID, itemID, description string) error {
	return s.updateItem(ctx, "description", `description = ?`, nullString(description), cityID, itemID)
}

func (s *CityStore) updateItem(ctx context.Context, what, set string, value any, cityID, itemID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET `+set+`, updated_at = datetime('now') WHERE city_id = ? AND id = ?
	`, value, cityID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", what, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("item not found")
	}
	return nil
}

// ResetCompletion clears the completion flag on every item of a city and
// returns how many items were touched.
func (s *CityStore) ResetCompletion(ctx context.Context, cityID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE items SET completed = 0, updated_at = datetime('now') WHERE city_id = ? AND completed = 1
	`, cityID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset completion: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
