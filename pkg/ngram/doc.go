// Package ngram provides text normalization (NFKC, width folding, case
// folding) and n-gram term generation. ASCII runs and CJK runs use
// independently configured window sizes; run boundaries contribute
// single-code-point terms so short queries still match.
package ngram
