package flow

import (
	"strings"
	"unicode"
)

// KeywordMatch is the simulation-mode prompt judge: a keyword-overlap
// heuristic over the condition's meaningful words. Short conditions (two or
// fewer keywords) match on a single hit; longer conditions need 40% of their
// keywords present in the utterance. Intentionally approximate; live mode
// replaces this with an LLM classification call.
func KeywordMatch(condition, utterance string) bool {
	keywords := meaningfulWords(condition)
	if len(keywords) == 0 {
		return false
	}
	have := make(map[string]struct{})
	for _, w := range meaningfulWords(utterance) {
		have[w] = struct{}{}
	}
	hits := 0
	for _, k := range keywords {
		if _, ok := have[k]; ok {
			hits++
		}
	}
	if len(keywords) <= 2 {
		return hits >= 1
	}
	return float64(hits) >= 0.4*float64(len(keywords))
}

func meaningfulWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, w := range fields {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "be": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"and": {}, "or": {}, "if": {}, "it": {}, "its": {}, "this": {}, "that": {},
	"user": {}, "says": {}, "said": {}, "wants": {}, "asks": {}, "about": {},
	"they": {}, "their": {}, "them": {}, "he": {}, "she": {}, "i": {}, "you": {},
	"do": {}, "does": {}, "did": {}, "has": {}, "have": {}, "will": {}, "would": {},
	"um": {}, "uh": {},
}
