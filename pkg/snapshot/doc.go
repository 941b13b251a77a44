/*
Package snapshot covers both bulk data paths: the initial loader that
mirrors tables out of MySQL with keyset-paginated batches, and the dump
manager that writes and restores whole-process snapshots.

A snapshot is one file pair per table — the document store dump with the
embedded replication cursor, and the companion index dump — produced
together under the lifecycle's read-only latch. Automatic snapshots use
auto_YYYYMMDD_HHMMSS naming; retention keeps the newest configured
number of auto_ generations and never touches other files.
*/
package snapshot
