package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTrackingToken(t *testing.T) {
	a := NewTrackingToken()
	b := NewTrackingToken()
	require.Len(t, a, 20)
	require.NotEqual(t, a, b)
	require.NotContains(t, a, "/")
	require.NotContains(t, a, "+")
}

func TestInjectTracking(t *testing.T) {
	html := `<p>Hi</p><a href="https://example.com/pricing">Pricing</a>`
	out := InjectTracking(html, "https://app.local", "tok123")

	require.Contains(t, out, `<img src="https://app.local/track/open/tok123"`)
	require.Contains(t, out, "https://app.local/track/click/tok123?url=https%3A%2F%2Fexample.com%2Fpricing")
	require.NotContains(t, out, `href="https://example.com/pricing"`)
}

func TestInjectTrackingRewritesEveryLink(t *testing.T) {
	html := `<a href="https://one.example">1</a><a href="https://two.example">2</a>`
	out := InjectTracking(html, "https://app.local", "tok123")

	require.Equal(t, 2, strings.Count(out, "/track/click/tok123"))
	require.Equal(t, 1, strings.Count(out, "/track/open/tok123"))
}

func TestInjectTrackingWithoutLinks(t *testing.T) {
	out := InjectTracking("<p>plain</p>", "https://app.local", "tok123")
	require.True(t, strings.HasPrefix(out, "<p>plain</p>"))
	require.Contains(t, out, "/track/open/tok123")
}
