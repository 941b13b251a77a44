/*
Package storage implements the per-table document store: the DocID to
primary-key bijection and each document's filter attributes, plus the
binary dump codec.

DocIDs are 32-bit and assigned monotonically from 1; the store refuses
inserts once the counter would pass 2³²−1. Adding an existing primary key
returns the original DocID without consuming a counter value. All maps
move as one unit under a single readers–writer lock.

ClearInPlace empties the store while keeping the instance identity: the
replication apply engine and the lifecycle coordinator hold the pointer
for the whole process lifetime.

The dump format ("MGDS", version 1, little-endian) embeds the replication
cursor so a restored store resumes the binlog from the right position.
Save and Load work against any byte stream; SaveToFile/LoadFromFile wrap
them for the dump directory.
*/
package storage
