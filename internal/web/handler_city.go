package web

import (
	"net/http"

	"github.com/vbonduro/travelbingo/internal/domain"
)

type itemJSON struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Completed   bool   `json:"completed"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	IsCenter    bool   `json:"isCenterSpace,omitempty"`
	Row         *int   `json:"row,omitempty"`
	Col         *int   `json:"col,omitempty"`
}

type tipJSON struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type cityJSON struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Subtitle string     `json:"subtitle"`
	Items    []itemJSON `json:"items"`
	Tips     []tipJSON  `json:"tips"`
}

func toItemJSON(item *domain.BingoItem) itemJSON {
	return itemJSON{
		ID:          item.ID,
		Text:        item.Text,
		Completed:   item.Completed,
		Description: item.Description,
		Image:       item.Image,
		IsCenter:    item.IsCenter,
		Row:         item.Row,
		Col:         item.Col,
	}
}

func toCityJSON(city *domain.City) cityJSON {
	out := cityJSON{
		ID:       city.ID,
		Title:    city.Title,
		Subtitle: city.Subtitle,
		Items:    make([]itemJSON, 0, len(city.Items)),
		Tips:     make([]tipJSON, 0, len(city.Tips)),
	}
	for _, item := range city.Items {
		out.Items = append(out.Items, toItemJSON(item))
	}
	for _, tip := range city.Tips {
		out.Tips = append(out.Tips, tipJSON{Title: tip.Title, Text: tip.Text})
	}
	return out
}

func (s *Server) handleListCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.service.ListCities(r.Context())
	if err != nil {
		s.writeError(w, err, "failed to list cities")
		return
	}

	out := make([]cityJSON, 0, len(cities))
	for _, city := range cities {
		out = append(out, toCityJSON(city))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCity(w http.ResponseWriter, r *http.Request) {
	city, err := s.service.GetCity(r.Context(), r.PathValue("city"))
	if err != nil {
		s.writeError(w, err, "failed to get city", "city_id", r.PathValue("city"))
		return
	}
	writeJSON(w, http.StatusOK, toCityJSON(city))
}

func (s *Server) handleToggleItem(w http.ResponseWriter, r *http.Request) {
	cityID, itemID := r.PathValue("city"), r.PathValue("item")

	item, err := s.service.ToggleItem(r.Context(), cityID, itemID)
	if err != nil {
		s.writeError(w, err, "failed to toggle item", "city_id", cityID, "item_id", itemID)
		return
	}
	writeJSON(w, http.StatusOK, toItemJSON(item))
}

func (s *Server) handleResetCity(w http.ResponseWriter, r *http.Request) {
	cityID := r.PathValue("city")

	removed, err := s.service.ResetCity(r.Context(), cityID)
	if err != nil {
		s.writeError(w, err, "failed to reset city", "city_id", cityID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"photosRemoved": removed})
}
