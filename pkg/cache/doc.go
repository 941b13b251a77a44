/*
Package cache implements the query result cache with n-gram-precise
invalidation.

The Manager owns the two halves and their joint invariant: the byte-budget
LRU entry store, and the reverse index mapping (table, ngram) to the
fingerprints whose results touched that n-gram. Every entry departure —
LRU eviction, Clear, explicit invalidation — unregisters its metadata;
every insertion registers it. Nothing else touches either side directly.

Fingerprints canonicalize queries (lowercased table, collapsed whitespace
including U+3000, sorted terms and filters) so trivially equivalent
queries share an entry.

Write events invalidate through the Queue: while its worker runs, events
batch and flush on a size or delay threshold with per-batch deduplication;
while it is stopped — or when max delay is zero — invalidation runs inline
inside the enqueue lock, preserving total order. The running flag is
checked inside that same lock, so a concurrent Stop can never strand an
event between the check and the push.
*/
package cache
