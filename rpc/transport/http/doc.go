// Package http implements the admin HTTP endpoint of the server. It exposes
// the Prometheus metrics collected with VictoriaMetrics/metrics, a health check
// backed by the store and the net/http/pprof profiles.
//
// The endpoint is optional and only started when a metrics endpoint is
// configured. Request logging at debug level is available as middleware.
package http
