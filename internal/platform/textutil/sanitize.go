package textutil

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StripMarkup removes all HTML from seller-provided text. Listings and notes
// are rendered as plain text by every client, so markup never survives intake.
func StripMarkup(value string) string {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	sanitized := strictPolicy.Sanitize(value)
	// bluemonday escapes entities while stripping tags; decode them back so
	// stored text matches what the seller typed ("a & b", not "a &amp; b").
	return strings.TrimSpace(html.UnescapeString(sanitized))
}
