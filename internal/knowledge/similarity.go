package knowledge

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/text/unicode/norm"
)

// SimilarityThreshold is the cut above which two text values are considered
// the same statement. A candidate for a populated text field is merged only
// when its similarity to the stored value is below this threshold; minor
// rewording never churns knowledge.
const SimilarityThreshold = 0.80

// NormalizeText prepares free text for comparison: Unicode NFC, lower-cased,
// inner whitespace collapsed to single spaces. Comparisons must not depend
// on composition form or spacing of user-entered text.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Similarity computes a normalized similarity score in [0, 1] between two
// text values using a character-level diff. The score is the fraction of
// characters shared by the two strings:
//
//	2 * equalRunes / (len(a) + len(b))
//
// Identical strings score 1.0; strings with no common runs score 0.0.
// Appending a few words to a sentence keeps the score high ("help businesses
// grow" vs "help businesses grow faster" is about 0.85), while a full rewrite
// drops it near zero.
func Similarity(a, b string) float64 {
	a = NormalizeText(a)
	b = NormalizeText(b)

	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	// Semantic cleanup folds coincidental single-character matches between
	// unrelated texts into plain replacements, so they don't inflate the score.
	diffs = dmp.DiffCleanupSemantic(diffs)

	equal := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			equal += utf8.RuneCountInString(d.Text)
		}
	}

	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	return float64(2*equal) / float64(total)
}

// SimilarEnough reports whether a stored text value and a candidate are close
// enough that the candidate should be discarded.
func SimilarEnough(stored, candidate string) bool {
	return Similarity(stored, candidate) >= SimilarityThreshold
}
