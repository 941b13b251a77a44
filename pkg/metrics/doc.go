// Package metrics declares the Prometheus instrumentation shared by the
// TCP and HTTP servers.
package metrics
