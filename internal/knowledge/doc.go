// Package knowledge models the per-organization company knowledge aggregate.
//
// A Knowledge aggregate is a versioned map of fixed fields (mission, target
// market, health score, strategic outlook, ...). Every field carries
// provenance: which journey produced it, through which synthesis layer
// (direct, derived, strategic, or manual), and when.
//
// Values are a sealed set of three shapes:
//   - Text: free text (mission, positioning, narratives)
//   - List: ordered short entries (challenges, strengths, risk factors)
//   - Score: a numeric assessment (health score)
//
// The Registry fixes the key set and each key's kind; the store rejects
// writes outside it.
//
// Comparison rules used by the synthesis pipeline live here too:
//   - Text fields compare by fuzzy similarity (character-diff ratio after
//     NFC + case + whitespace normalization); values at or above
//     SimilarityThreshold are treated as the same statement.
//   - List fields compare sorted-and-serialized, so ordering never counts
//     as a change.
//   - Score fields compare numerically.
package knowledge
