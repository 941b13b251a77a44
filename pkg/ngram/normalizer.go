package ngram

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalizer folds text into the canonical form all index and query paths
// share. The three stages are individually switchable from the
// memory.normalize config block; both the loader and the query executor must
// use the same Normalizer instance settings or terms will not line up.
type Normalizer struct {
	// NFKC applies Unicode NFKC normalization.
	NFKC bool
	// Width folds full-width ASCII and half-width kana to their canonical
	// widths.
	Width bool
	// Lower applies Unicode lowercasing.
	Lower bool
}

// DefaultNormalizer enables all folds.
func DefaultNormalizer() Normalizer {
	return Normalizer{NFKC: true, Width: true, Lower: true}
}

// Normalize returns the folded form of s.
func (n Normalizer) Normalize(s string) string {
	if n.Width {
		s = width.Fold.String(s)
	}
	if n.NFKC {
		s = norm.NFKC.String(s)
	}
	if n.Lower {
		s = strings.ToLower(s)
	}
	return s
}
