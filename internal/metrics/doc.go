/*
Package metrics exposes the datastore engine's Prometheus collectors:
arena usage, lock contention, cache hit rate, datastore load/commit
latency, provider-callout latency, and change-notification counts. All
collectors are registered at package init, following the teacher's
pkg/metrics; Handler() wraps promhttp.Handler() for mounting on an HTTP
mux (see internal/introspect).
*/
package metrics
