// Package lifecycle holds the process-wide state machine gating
// replication, SYNC, DUMP SAVE, DUMP LOAD and OPTIMIZE against each
// other. The transition matrix lives on the Coordinator; every public
// engine operation reads these flags in its preamble.
package lifecycle
