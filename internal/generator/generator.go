// Package generator builds prompts and defines the image and description backends.
package generator

import (
	"context"
	"fmt"
	"strings"
)

// Prompt identifies the tile an asset is generated for.
type Prompt struct {
	CityTitle   string
	ItemText    string
	Description string
}

type ImageGenerator interface {
	// GenerateImage returns a URL for a new image matching the prompt.
	GenerateImage(ctx context.Context, p Prompt) (string, error)
}

type DescriptionWriter interface {
	Describe(ctx context.Context, p Prompt) (string, error)
}

// ImagePrompt is the text sent to the image model.
func ImagePrompt(p Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A bright, friendly travel illustration of %q", strings.TrimSpace(p.ItemText))
	if p.CityTitle != "" {
		fmt.Fprintf(&b, " in %s", p.CityTitle)
	}
	b.WriteString(".")
	if d := strings.TrimSpace(p.Description); d != "" {
		fmt.Fprintf(&b, " Context: %s", d)
	}
	b.WriteString(" No text or lettering in the image.")
	return b.String()
}

// DescriptionPrompt is the text sent to the language model.
func DescriptionPrompt(p Prompt) string {
	city := p.CityTitle
	if city == "" {
		city = "the city"
	}
	return fmt.Sprintf(
		"Write two short sentences for a traveller about this bingo challenge in %s: %q. "+
			"Say what it is and one practical tip. Reply with the text only.",
		city, strings.TrimSpace(p.ItemText))
}
