package domain

import (
	"net/url"
	"strings"
	"time"
)

// PlaceholderImage marks an item whose image has not been generated yet.
const PlaceholderImage = "/images/placeholder.svg"

type City struct {
	ID       string
	Title    string
	Subtitle string
	Items    []*BingoItem
	Tips     []Tip
}

type Tip struct {
	Title string
	Text  string
}

type BingoItem struct {
	ID          string
	CityID      string
	Text        string
	Completed   bool
	Description string
	Image       string
	IsCenter    bool
	Row         *int
	Col         *int
}

// NeedsImage reports whether the item has no generated image yet.
func (i *BingoItem) NeedsImage() bool {
	return i.Image == "" || i.Image == PlaceholderImage
}

func (i *BingoItem) NeedsDescription() bool {
	return strings.TrimSpace(i.Description) == ""
}

// CenterItems returns the items marked as the center space. A well-formed
// city has exactly one.
func (c *City) CenterItems() []*BingoItem {
	var centers []*BingoItem
	for _, item := range c.Items {
		if item.IsCenter {
			centers = append(centers, item)
		}
	}
	return centers
}

func (c *City) Item(itemID string) *BingoItem {
	for _, item := range c.Items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}

type StoredPhoto struct {
	CityID    string
	ItemID    string
	MimeType  string
	Payload   []byte
	Timestamp time.Time
}

// PhotoKey is the synthetic record id for a (city, item) pair.
func PhotoKey(cityID, itemID string) string {
	return cityID + "-" + itemID
}

// ValidImageRef reports whether ref is empty, the placeholder, an absolute
// http(s) URL or a root-relative path.
func ValidImageRef(ref string) bool {
	if ref == "" || ref == PlaceholderImage {
		return true
	}
	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//") {
		return !strings.ContainsAny(ref, " \n\t{}\"")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
