package inference

import "strings"

// cutMarkers end the useful part of a completion. Anything after them is
// template noise or the model starting another turn.
var cutMarkers = []string{"<|eot_id|>", "<|end_of_text|>", "<|start_header_id|>"}

// CleanCompletion strips an echoed prompt and everything from the first
// template marker on.
func CleanCompletion(text, prompt string) string {
	if prompt != "" {
		text = strings.TrimPrefix(text, prompt)
	}
	for _, marker := range cutMarkers {
		if i := strings.Index(text, marker); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
