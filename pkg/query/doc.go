/*
Package query parses protocol requests and executes them against a table.

The pipeline: tokenize the search text and AND terms with the table's
n-gram generator, intersect their postings, subtract NOT matches, apply
structured filters (equality before range), then sort and paginate.

Sorting defaults to primary key descending. Pure-digit key pairs compare
as unsigned integers, everything else as raw bytes, so numeric and string
primary keys each stay internally monotone. Large primary-key sorts
pre-materialize their keys once instead of hitting the store lock per
comparison; when the page needs less than half the candidates, a bounded
heap performs a partial sort instead of ordering everything.

An ORDER BY column that is neither the primary key nor present in any
sampled document is an error, not a silent fallback.
*/
package query
