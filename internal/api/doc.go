// Package api hosts the HTTP server, middleware, and REST handlers in front of
// the tiered dispatcher. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/fetch for a single tiered fetch, optionally browser-only.
//   - POST /v1/fetch/batch for a bounded concurrent batch.
//   - GET /v1/routes to list domains with a structured-API route.
package api
