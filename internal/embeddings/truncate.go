package embeddings

// Truncate returns at most maxChars runes of s, cutting from the end.
//
// Truncation is by rune so multi-byte characters are never split, and it is
// deterministic: the same input always yields the same prefix.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
