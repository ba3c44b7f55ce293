package ingestion

import (
	"context"
	"regexp"
	"strings"
)

var cashtag = regexp.MustCompile(`\$[A-Z0-9]{2,10}`)

// ExtractSymbols returns the cashtag symbols in text, upper-cased, without
// the leading "$", in order of first appearance.
func ExtractSymbols(text string) []string {
	matches := cashtag.FindAllString(strings.ToUpper(text), -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		sym := m[1:]
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// MatchTitle returns the symbols whose upper-cased name occurs in title.
func MatchTitle(title string, symbols []string) []string {
	upper := strings.ToUpper(title)
	var out []string
	for _, s := range symbols {
		if s != "" && strings.Contains(upper, strings.ToUpper(s)) {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

// send delivers v unless ctx is cancelled first.
func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
