package domain

import "strings"

// ArticleKey is the canonical article identity shared by rolls and orders:
// trimmed and lowercased.
type ArticleKey string

// NormalizeArticle returns the key of the first non-empty candidate, in the
// order given. Callers pass the alias fields in priority order.
func NormalizeArticle(candidates ...string) ArticleKey {
	for _, c := range candidates {
		if key := strings.ToLower(strings.TrimSpace(c)); key != "" {
			return ArticleKey(key)
		}
	}
	return ""
}

// Matches reports whether both keys are set and equal.
func (a ArticleKey) Matches(other ArticleKey) bool {
	return a != "" && a == other
}

func (a ArticleKey) String() string { return string(a) }
