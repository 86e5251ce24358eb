// Package api hosts the HTTP server, middleware, and REST handlers for
// observer access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/fetch/{start,cancel,retry,dismiss} for the session protocol.
//   - GET /v1/fetch/{status,eta,options} for observer rendering.
//   - GET /v1/history for finished sessions via the history.Repository
//     interface.
package api
