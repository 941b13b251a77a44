/*
Package server hosts the two protocol front ends and the Engine gluing
the core together.

The TCP server speaks the memcached-style line protocol (SEARCH, COUNT,
GET, INFO, CONFIG, DUMP, REPLICATION, SYNC, DEBUG, OPTIMIZE); the HTTP
server exposes the JSON API, health probes and Prometheus metrics. Both
share one Engine and one Stats object, so INFO and /metrics report the
same numbers regardless of which listener served the traffic.

The Engine consults the query cache before executing, runs dumps and
loads under the lifecycle coordinator's latches, and launches SYNC and
OPTIMIZE in the background with per-operation busy gating.
*/
package server
