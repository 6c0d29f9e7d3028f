package detection

import "strings"

// ShingleSize is the length of the character n-grams used for near-duplicate
// comparison. Three characters is small enough to survive minor edits
// ("cheap" vs "cheep") while keeping the shingle sets discriminative.
const ShingleSize = 3

// Similarity computes the Jaccard index between the shingle sets of two
// strings. The result is symmetric and falls in [0, 1]: identical strings
// score 1.0, strings with no common shingles score 0.0. Two normalized-empty
// strings are considered identical.
func Similarity(a, b string) float64 {
	shinglesA := shingles(normalizeContent(a))
	shinglesB := shingles(normalizeContent(b))

	return jaccardIndex(shinglesA, shinglesB)
}

// jaccardIndex computes |A ∩ B| / |A ∪ B| for two shingle sets.
func jaccardIndex(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0

	for shingle := range a {
		if _, ok := b[shingle]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection

	return float64(intersection) / float64(union)
}

// shingles builds the set of all contiguous ShingleSize-rune substrings of
// text. Text shorter than ShingleSize produces a singleton set containing
// the whole string; empty text produces an empty set.
func shingles(text string) map[string]struct{} {
	set := make(map[string]struct{})
	if text == "" {
		return set
	}

	runes := []rune(text)
	if len(runes) < ShingleSize {
		set[text] = struct{}{}
		return set
	}

	for i := 0; i <= len(runes)-ShingleSize; i++ {
		set[string(runes[i:i+ShingleSize])] = struct{}{}
	}

	return set
}

// normalizeContent prepares message content for comparison: lowercase,
// zero-width characters replaced by spaces so they cannot split or join
// words invisibly, whitespace runs collapsed to single spaces, trimmed.
func normalizeContent(content string) string {
	if content == "" {
		return ""
	}

	normalized := strings.ToLower(content)
	normalized = strings.NewReplacer(
		"​", " ", // zero-width space
		"‌", " ", // zero-width non-joiner
		"‍", " ", // zero-width joiner
		"\uFEFF", " ", // BOM
	).Replace(normalized)

	return strings.Join(strings.Fields(normalized), " ")
}
