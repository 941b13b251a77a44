/*
Package replication follows the source database's binlog and applies row
events to the mirror.

The Follower tails the binlog (go-mysql canal), converts each row image
into the engine's typed form, and reconnects with exponential backoff
when the stream drops. The ApplyEngine turns events into (store, index)
mutation pairs under the table's apply latch:

  - INSERT: store first, then index; rows failing the configured
    required filters are skipped entirely.
  - UPDATE: insert-like when the row enters the mirrored set,
    delete-like when it leaves, in-place otherwise.
  - DELETE: index first, then store — a reader that still finds the
    terms also still finds the document, never the other way around.

After each successful apply the engine notifies the cache invalidation
engine with the old and new texts. The replication cursor is advanced by
the Follower on each position sync, not by the apply itself.
Row decode failures are logged and skipped; the row stays absent until
the next full SYNC.
*/
package replication
