// Package sqlite stores photos in a SQLite table. Records carry the synthetic
// "cityId-itemId" id but are keyed on the (city_id, item_id) pair, since the
// joined form is ambiguous for ids containing '-'. A secondary index on
// city_id serves city-wide scans.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/travelbingo/internal/domain"
	"github.com/vbonduro/travelbingo/internal/photostore"
)

const schema = `
CREATE TABLE IF NOT EXISTS photos (
    id        TEXT     NOT NULL,
    city_id   TEXT     NOT NULL,
    item_id   TEXT     NOT NULL,
    payload   BLOB     NOT NULL,
    mime_type TEXT     NOT NULL DEFAULT 'image/jpeg',
    timestamp DATETIME NOT NULL,
    PRIMARY KEY (city_id, item_id)
);
CREATE INDEX IF NOT EXISTS idx_photos_city_id ON photos(city_id);
`

type Backend struct {
	db *sql.DB
}

// Open ensures the photo schema exists. It is safe to call repeatedly.
func Open(ctx context.Context, db *sql.DB) (*Backend, error) {
	if db == nil {
		return nil, photostore.Unavailable(errors.New("no database handle"))
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, photostore.Unavailable(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, photostore.Unavailable(fmt.Errorf("failed to create photo schema: %w", err))
	}
	return &Backend{db: db}, nil
}

// NewOpener returns an Opener whose handle is backed by db.
func NewOpener(db *sql.DB, logger *slog.Logger) *photostore.Opener {
	return photostore.NewOpener(func() (photostore.PhotoStore, error) {
		b, err := Open(context.Background(), db)
		if err != nil {
			return nil, err
		}
		return photostore.New(b, logger), nil
	})
}

func (b *Backend) Put(ctx context.Context, photo *domain.StoredPhoto) error {
	if err := photostore.ValidKey(photo.CityID, photo.ItemID); err != nil {
		return err
	}
	return b.inTx(ctx, "put", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO photos (id, city_id, item_id, payload, mime_type, timestamp) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (city_id, item_id) DO UPDATE SET payload = excluded.payload, mime_type = excluded.mime_type, timestamp = excluded.timestamp
		`, domain.PhotoKey(photo.CityID, photo.ItemID), photo.CityID, photo.ItemID, photo.Payload, photo.MimeType,
			photo.Timestamp.UTC().Format(time.RFC3339Nano))
		return err
	})
}

func (b *Backend) Fetch(ctx context.Context, cityID, itemID string) (*domain.StoredPhoto, error) {
	photo := &domain.StoredPhoto{}
	var ts string
	err := b.db.QueryRowContext(ctx, `
		SELECT city_id, item_id, payload, mime_type, timestamp FROM photos
		WHERE city_id = ? AND item_id = ?
	`, cityID, itemID).Scan(&photo.CityID, &photo.ItemID, &photo.Payload, &photo.MimeType, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, photostore.OpFailed("get", err)
	}
	if photo.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, photostore.OpFailed("parse timestamp", err)
	}
	return photo, nil
}

func (b *Backend) Remove(ctx context.Context, cityID, itemID string) (bool, error) {
	var removed bool
	err := b.inTx(ctx, "delete", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM photos WHERE city_id = ? AND item_id = ?
		`, cityID, itemID)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	return removed, err
}

func (b *Backend) ItemIDsForCity(ctx context.Context, cityID string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT item_id FROM photos WHERE city_id = ?
	`, cityID)
	if err != nil {
		return nil, photostore.OpFailed("scan city", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, photostore.OpFailed("scan city", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, photostore.OpFailed("scan city", err)
	}
	return ids, nil
}

func (b *Backend) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return photostore.OpFailed(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return photostore.OpFailed(op, err)
	}
	if err := tx.Commit(); err != nil {
		return photostore.OpFailed(op, err)
	}
	return nil
}
