// Package api hosts the control server: the embedded operator panel, the
// credential upload endpoints, and the routes that start harvest jobs.
// Notable routes:
//   - GET / for the control panel and GET /ws/logs for live job output.
//   - POST /run-website-scraper, /run-facebook-scraper and /run-email-filter
//     to start background jobs.
//   - GET /v1/jobs/{job_id} for job status and GET /v1/runs/{run_id} for
//     ledger records when Postgres is enabled.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
