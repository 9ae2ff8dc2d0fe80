package store

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vbonduro/travelbingo/internal/db"
	"github.com/vbonduro/travelbingo/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// testCity builds a 5x5 city whose center (index 12) is marked.
func testCity(id string) *domain.City {
	city := &domain.City{ID: id, Title: "Test " + id, Subtitle: "A city"}
	for i := 0; i < 25; i++ {
		row, col := i/5, i%5
		item := &domain.BingoItem{
			ID:   fmt.Sprintf("%s-%d", id, i),
			Text: fmt.Sprintf("Activity %d", i),
			Row:  &row,
			Col:  &col,
		}
		if i == 12 {
			item.IsCenter = true
			item.Text = "Arrive"
		}
		city.Items = append(city.Items, item)
	}
	city.Tips = []domain.Tip{{Title: "Transit", Text: "Buy a day pass."}}
	return city
}
