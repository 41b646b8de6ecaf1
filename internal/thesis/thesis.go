// Package thesis holds the user's per-ticker investment theses loaded
// from configuration. The scorer grants a bonus to tickers with a
// thesis on file.
package thesis

import (
	"strings"
)

// maxSummaryLen bounds the extracted summary.
const maxSummaryLen = 200

// Book is the loaded ticker to thesis-summary mapping. Keys are
// uppercase tickers.
type Book struct {
	entries map[string]string
}

// Load builds a Book from the raw config section. A thesis value is
// either a free-form string or an object carrying one of the keys
// summary, text, description.
func Load(raw map[string]any) *Book {
	b := &Book{entries: make(map[string]string, len(raw))}
	for ticker, val := range raw {
		text := extract(val)
		if text == "" {
			continue
		}
		b.entries[strings.ToUpper(strings.TrimSpace(ticker))] = Summarize(text)
	}
	return b
}

func extract(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case map[string]any:
		for _, key := range []string{"summary", "text", "description"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// Has reports whether a thesis exists for the ticker.
func (b *Book) Has(ticker string) bool {
	_, ok := b.entries[strings.ToUpper(ticker)]
	return ok
}

// Summary returns the thesis summary for the ticker.
func (b *Book) Summary(ticker string) (string, bool) {
	s, ok := b.entries[strings.ToUpper(ticker)]
	return s, ok
}

// Len returns the number of loaded theses.
func (b *Book) Len() int {
	return len(b.entries)
}

// Summarize reduces free-form thesis text to its first sentence,
// bounded in length. Applying it twice returns the same string.
func Summarize(text string) string {
	s := strings.TrimSpace(text)
	s = strings.ReplaceAll(s, "\n", " ")

	if idx := strings.IndexAny(s, ".!?"); idx >= 0 {
		s = s[:idx+1]
	}
	if len(s) > maxSummaryLen {
		s = strings.TrimSpace(s[:maxSummaryLen])
	}
	return s
}
