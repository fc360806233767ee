package instagram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"reel-tracker/domain/model"
)

// errProviderPayload marks an upstream answer we cannot use; callers fall back.
var errProviderPayload = errors.New("unusable provider payload")

// Providers wrap the media object in different envelopes; these keys are unwrapped in order.
var envelopeKeys = []string{"data", "graphql", "shortcode_media", "xdt_shortcode_media", "result", "media", "items"}

var (
	viewKeys      = []string{"video_play_count", "play_count", "ig_play_count", "video_view_count", "view_count", "views", "plays"}
	likeKeys      = []string{"like_count", "likes", "edge_media_preview_like", "edge_liked_by"}
	commentKeys   = []string{"comment_count", "comments", "edge_media_to_comment", "edge_media_to_parent_comment", "comments_count"}
	usernameKeys  = []string{"username", "owner_username"}
	ownerKeys     = []string{"owner", "user"}
	thumbnailKeys = []string{"thumbnail_url", "display_url", "thumbnail_src", "thumbnail", "cover_url"}
	shortcodeKeys = []string{"shortcode", "code"}
)

const maxEnvelopeDepth = 6

// normalizePayload maps any of the known provider shapes to the canonical metrics type.
// Missing counters are zero and missing handle or thumbnail are left empty for the caller.
func normalizePayload(body []byte) (*model.ReelMetrics, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", errProviderPayload, err)
	}

	node, ok := firstObject(root)
	if !ok {
		return nil, fmt.Errorf("%w: not an object", errProviderPayload)
	}
	if err := payloadError(node); err != nil {
		return nil, err
	}
	node = unwrap(node)

	m := &model.ReelMetrics{
		Views:     clamp(firstCount(node, viewKeys)),
		Likes:     clamp(firstCount(node, likeKeys)),
		Comments:  clamp(firstCount(node, commentKeys)),
		Username:  firstString(node, usernameKeys),
		Thumbnail: firstString(node, thumbnailKeys),
		Shortcode: firstString(node, shortcodeKeys),
	}
	if m.Username == "" {
		for _, k := range ownerKeys {
			if owner, ok := node[k].(map[string]interface{}); ok {
				if name := firstString(owner, usernameKeys); name != "" {
					m.Username = name
					break
				}
			}
		}
	}
	if m.Thumbnail == "" {
		m.Thumbnail = imageCandidate(node)
	}
	return m, nil
}

// payloadError detects explicit error envelopes, including throttling messages.
func payloadError(node map[string]interface{}) error {
	msg := ""
	failed := false
	if v, ok := node["error"]; ok && truthy(v) {
		failed = true
		msg = describe(v)
	}
	if v, ok := node["errors"]; ok && truthy(v) {
		failed = true
		msg = describe(v)
	}
	if s, ok := node["status"].(string); ok && (strings.EqualFold(s, "fail") || strings.EqualFold(s, "error")) {
		failed = true
	}
	if b, ok := node["success"].(bool); ok && !b {
		failed = true
	}
	if m, ok := node["message"].(string); ok {
		if msg == "" {
			msg = m
		}
		if isThrottleMessage(m) {
			return &model.RateLimitError{}
		}
	}
	if !failed {
		return nil
	}
	if isThrottleMessage(msg) {
		return &model.RateLimitError{}
	}
	return fmt.Errorf("%w: %s", errProviderPayload, msg)
}

func isThrottleMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "quota")
}

func unwrap(node map[string]interface{}) map[string]interface{} {
	for depth := 0; depth < maxEnvelopeDepth; depth++ {
		next := map[string]interface{}(nil)
		for _, k := range envelopeKeys {
			if child, ok := firstObject(node[k]); ok {
				next = child
				break
			}
		}
		if next == nil {
			return node
		}
		node = next
	}
	return node
}

func firstObject(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case []interface{}:
		if len(t) > 0 {
			if obj, ok := t[0].(map[string]interface{}); ok {
				return obj, true
			}
		}
	}
	return nil, false
}

func firstCount(node map[string]interface{}, keys []string) int64 {
	for _, k := range keys {
		if n, ok := toInt(node[k]); ok {
			return n
		}
	}
	return 0
}

func toInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	case map[string]interface{}:
		return toInt(t["count"])
	}
	return 0, false
}

func firstString(node map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := node[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func imageCandidate(node map[string]interface{}) string {
	versions, ok := node["image_versions2"].(map[string]interface{})
	if !ok {
		return ""
	}
	first, ok := firstObject(versions["candidates"])
	if !ok {
		return ""
	}
	return firstString(first, []string{"url"})
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}

func describe(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if m, ok := t["message"].(string); ok {
			return m
		}
	case []interface{}:
		if len(t) > 0 {
			return describe(t[0])
		}
	}
	return fmt.Sprint(v)
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
