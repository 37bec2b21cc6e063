// Package api hosts the read-only HTTP interface over the indicator store.
// Notable routes:
//   - GET /healthz for probes and GET /metrics for Prometheus scraping.
//   - GET /v1/indicators with search filters as query parameters.
//   - GET /v1/indicators/{lookup,top,similar,history} and /v1/statistics.
//   - GET /v1/export for a CSV download of every record.
//   - POST /v1/urls to append an identifier to the input list.
package api
