// Package journey spots origin and destination pairs in chat text.
package journey

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tripwise/planner/backend/internal/metrics"
	model "github.com/tripwise/planner/backend/internal/model/journey"
)

// MaxPlaceWords bounds how long a captured place name may be.
const MaxPlaceWords = 6

// Rule is one surface pattern. Origin and Destination are capture group
// indexes into Pattern.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Origin      int
	Destination int
}

// DefaultRules are evaluated in order; the first rule producing a complete
// pair wins.
var DefaultRules = []Rule{
	{
		Name:        "from-to",
		Pattern:     regexp.MustCompile(`(?i)\bfrom\s+(.+?)\s+(?:to|towards?|going to|heading to|travel(?:l)?ing to)\s+(.+)`),
		Origin:      1,
		Destination: 2,
	},
	{
		// The greedy prefix anchors on the last travel verb before "from".
		Name:        "to-from",
		Pattern:     regexp.MustCompile(`(?i).*\b(?:go|going|get|getting|fly|flying|travel|travell?ing|drive|driving|head|heading|move|moving|trip|flight|flights|train|bus|way|directions|route)\s+to\s+(.+?)\s+from\s+(.+)`),
		Origin:      2,
		Destination: 1,
	},
	{
		Name:        "between",
		Pattern:     regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+(.+)`),
		Origin:      1,
		Destination: 2,
	},
	{
		// Only capitalised words before the arrow count as part of the origin.
		Name:        "arrow",
		Pattern:     regexp.MustCompile(`((?:\p{Lu}[\p{L}'-]*\s+){0,5}\p{L}[\p{L}'-]*)\s*(?:->|→|=>)\s*([^\n]+)`),
		Origin:      1,
		Destination: 2,
	},
}

// clauseWords end a place name: "Rome on Friday", "Boston next week".
var clauseWords = map[string]struct{}{
	"on": {}, "next": {}, "tomorrow": {}, "today": {}, "tonight": {}, "by": {},
	"to": {}, "from": {}, "for": {}, "via": {}, "and": {}, "with": {}, "at": {},
	"this": {}, "in": {}, "during": {}, "before": {}, "after": {}, "around": {},
	"please": {}, "because": {}, "so": {}, "but": {}, "then": {}, "is": {},
	"takes": {}, "would": {}, "will": {}, "can": {},
	"->": {}, "→": {}, "=>": {},
}

// notPlaces are captures that fit the patterns but never name a place.
var notPlaces = map[string]struct{}{
	"here": {}, "there": {}, "it": {}, "me": {}, "you": {}, "them": {},
	"that": {}, "this": {}, "where": {}, "time": {}, "somewhere": {},
}

const stopPunctuation = ".,!?;:\n()[]"

// abbreviations keep their period inside a place name: "St. Louis",
// "Mt. Fuji". Single-letter initials ("D.C.") are kept as well.
var abbreviations = map[string]struct{}{
	"st": {}, "ste": {}, "mt": {}, "ft": {}, "pt": {}, "sta": {}, "sto": {},
}

// Extractor applies an ordered rule list.
type Extractor struct {
	rules []Rule
}

// New returns an Extractor over rules, or DefaultRules when none are given.
func New(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Extractor{rules: rules}
}


// Extract looks for a journey in the user's message first and falls back to
// the assistant's reply. It returns nil when neither yields both places.
func (e *Extractor) Extract(userText, assistantText string) *model.Intent {
	for _, text := range []string{userText, assistantText} {
		if intent, rule := e.match(text); intent != nil {
			metrics.RecordJourney(rule)
			return intent
		}
	}
	return nil
}

func (e *Extractor) match(text string) (*model.Intent, string) {
	if strings.TrimSpace(text) == "" {
		return nil, ""
	}
	for _, rule := range e.rules {
		for _, groups := range rule.Pattern.FindAllStringSubmatch(text, -1) {
			if rule.Origin >= len(groups) || rule.Destination >= len(groups) {
				continue
			}
			origin, ok := cleanPlace(groups[rule.Origin])
			if !ok {
				continue
			}
			destination, ok := cleanPlace(groups[rule.Destination])
			if !ok {
				continue
			}
			return &model.Intent{Origin: origin, Destination: destination}, rule.Name
		}
	}
	return nil, ""
}

// cleanPlace trims a raw capture down to a place name.
func cleanPlace(raw string) (string, bool) {
	if i := placeEnd(raw); i >= 0 {
		raw = raw[:i]
	}

	words := strings.Fields(raw)
	for i, w := range words {
		if i == 0 {
			continue
		}
		if _, stop := clauseWords[strings.ToLower(w)]; stop {
			words = words[:i]
			break
		}
	}

	place := strings.Trim(strings.Join(words, " "), `"'“”‘’`+"`")
	if place == "" || len(words) > MaxPlaceWords || !hasLetter(place) {
		return "", false
	}
	if _, deny := notPlaces[strings.ToLower(place)]; deny {
		return "", false
	}
	return place, true
}

// placeEnd returns the index of the first punctuation mark that ends the
// capture, or -1. A period after an abbreviation that is followed by more of
// the name does not count.
func placeEnd(raw string) int {
	for i, r := range raw {
		if !strings.ContainsRune(stopPunctuation, r) {
			continue
		}
		if r == '.' && abbreviationDot(raw, i) {
			continue
		}
		return i
	}
	return -1
}

func abbreviationDot(raw string, dot int) bool {
	start := dot
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(raw[:start])
		if !unicode.IsLetter(r) {
			break
		}
		start -= size
	}
	word := raw[start:dot]
	if word == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(word)
	if !unicode.IsUpper(first) {
		return false
	}
	if _, ok := abbreviations[strings.ToLower(word)]; !ok && utf8.RuneCountInString(word) != 1 {
		return false
	}

	rest := strings.TrimLeft(raw[dot+1:], " ")
	next, _ := utf8.DecodeRuneInString(rest)
	return rest != "" && unicode.IsUpper(next)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
