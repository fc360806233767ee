package instagram

import (
	"fmt"
	"regexp"
	"strings"

	"reel-tracker/domain/model"
)

// Accepted shapes:
//
//	https://www.instagram.com/reel/<code>/
//	https://www.instagram.com/reels/<code>/
//	https://www.instagram.com/p/<code>/
//	https://www.instagram.com/tv/<code>/
//	https://www.instagram.com/<username>/reel/<code>/
//
// with or without scheme, www./m. prefix, trailing slash, query or fragment.
var shortcodePattern = regexp.MustCompile(
	`^(?:https?://)?(?:www\.|m\.)?(?:instagram\.com|instagr\.am)/(?:[A-Za-z0-9._]+/)?(?:reels?|p|tv)/([A-Za-z0-9_-]+)/?(?:[?#].*)?$`,
)

// ExtractShortcode returns the post identifier embedded in a post URL.
func ExtractShortcode(sourceURL string) (string, error) {
	m := shortcodePattern.FindStringSubmatch(strings.TrimSpace(sourceURL))
	if m == nil {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidReelURL, sourceURL)
	}
	return m[1], nil
}
