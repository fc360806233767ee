package instagram

import (
	"fmt"
	"net/url"
	"strings"
)

var placeholderPalette = []string{"E1306C", "833AB4", "F77737", "405DE6", "5851DB", "FCAF45"}

const placeholderTextLen = 4

// PlaceholderThumbnail builds a reproducible thumbnail reference for a shortcode:
// the background is picked from a fixed palette by shortcode length and the first
// characters of the shortcode are rendered as text.
func PlaceholderThumbnail(shortcode string) string {
	color := placeholderPalette[len(shortcode)%len(placeholderPalette)]
	text := shortcode
	if len(text) > placeholderTextLen {
		text = text[:placeholderTextLen]
	}
	if text == "" {
		text = "reel"
	}
	return fmt.Sprintf("https://placehold.co/400x711/%s/FFFFFF/png?text=%s", color, url.QueryEscape(strings.ToUpper(text)))
}
