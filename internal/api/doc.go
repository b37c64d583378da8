// Package api hosts the ops HTTP listener of the serve command. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the current sync_state flags.
package api
