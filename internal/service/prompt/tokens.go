package prompt

import "unicode/utf8"

// TurnOverhead approximates the tokens spent on a role header and the end of
// turn marker.
const TurnOverhead = 4

// Counter estimates the token count of a piece of text.
type Counter func(text string) int

// EstimateTokens assumes roughly four characters per token, rounded up, which
// is near the Llama 3 average for English. It is an estimate, not an upper
// bound: digit runs and non-Latin text can tokenize denser than this.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
