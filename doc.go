// Command harvester finds contact emails for the businesses listed in a
// spreadsheet and writes them back next to each business.
//
// Architecture overview:
//   - CLI: cmd builds a cobra tree (website, social, filter, serve). Viper merges the config file, HARVESTER_*
//     environment variables and the --sheet/--key flags; a Sheets-backed run without a spreadsheet ID exits non-zero
//     before any network call.
//   - Harvest engine: internal/harvest loads targets from the roster, fans them out to a bounded worker pool with a
//     randomized politeness delay, runs the ordered extraction strategies over each fetched page, and writes results
//     back in batches with a mandatory final flush. Failed batches are retried once and then dumped for recovery.
//   - Fetchers: the website profile uses the colly-based static fetcher (robots.txt aware, per-domain rate limited);
//     the social profile renders pages with chromedp and clicks through to the About section. The promote fetcher
//     starts static and escalates to the browser when the page looks script-rendered.
//   - Stores: internal/sheets talks to the Google Sheets API; internal/storage/xlsx edits a local workbook;
//     internal/storage/memory backs tests and dry runs. Recovery dumps go to local disk, GCS or memory.
//   - Control server: serve hosts the operator panel, accepts the key upload and sheet ID, starts jobs through
//     internal/jobs, and relays each job's log lines over /ws/logs.
//   - Observability: zap logs carry run IDs and URLs; Prometheus counters track fetches, store calls, jobs and HTTP
//     traffic; the progress Hub batches run events to the log, metrics, Postgres ledger and Pub/Sub sinks.
//
// Quick checklist:
//   - One-off run: harvester website --sheet SHEET_ID --key service_account.json
//   - Control panel: harvester serve, then open http://localhost:3000.
//   - Containers: set HARVESTER_SERVICE_JSON_CONTENT and HARVESTER_SHEET_ID to seed the storage directory.
package main
