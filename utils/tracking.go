package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// NewTrackingToken returns the opaque token embedded in outbound content so
// the event source can address a single step execution.
func NewTrackingToken() string {
	hash := sha256.Sum256([]byte(uuid.New().String()))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}

// TrackingPixelURL builds the open-tracking pixel URL for an execution.
func TrackingPixelURL(baseURL, token string) string {
	return fmt.Sprintf("%s/track/open/%s", baseURL, token)
}

// ClickTrackURL wraps a link so clicks are recorded before redirecting.
func ClickTrackURL(baseURL, token, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s", baseURL, token, url.QueryEscape(originalURL))
}

// InjectTracking rewrites links for click tracking and appends the open pixel.
func InjectTracking(htmlContent, baseURL, token string) string {
	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, TrackingPixelURL(baseURL, token))
	return injectClickTracking(htmlContent, baseURL, token) + pixel
}

func injectClickTracking(html, baseURL, token string) string {
	// Simplified rewrite; an HTML parser would be safer for hostile input
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := ClickTrackURL(baseURL, token, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
