package cluster

import (
	"sort"
	"strings"
)

// DefaultKeywordCount is used when Keywords is asked for n <= 0.
const DefaultKeywordCount = 10

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "in": {}, "on": {}, "is": {}, "to": {}, "of": {},
	"for": {}, "with": {}, "i": {}, "we": {}, "you": {}, "it": {}, "this": {}, "that": {}, "at": {},
	"by": {}, "be": {}, "was": {}, "are": {}, "as": {}, "from": {},
}

// Keywords returns the n most frequent tokens across texts. Text is
// lowercased, ASCII punctuation is removed, stopwords and tokens of two
// characters or fewer are dropped. Ties keep first-seen order.
func Keywords(texts []string, n int) []string {
	if n <= 0 {
		n = DefaultKeywordCount
	}

	counts := make(map[string]int)
	var order []string
	for _, text := range texts {
		for _, tok := range strings.Fields(stripPunct(strings.ToLower(text))) {
			if _, stop := stopwords[tok]; stop || len([]rune(tok)) <= 2 {
				continue
			}
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 128 && isASCIIPunct(byte(r)) {
			return -1
		}
		return r
	}, s)
}

func isASCIIPunct(c byte) bool {
	return (c >= '!' && c <= '/') || (c >= ':' && c <= '@') || (c >= '[' && c <= '`') || (c >= '{' && c <= '~')
}
