// Package cmd defines the scraper CLI.
//
// Architecture overview:
//   - Seeding: the run command expands scraper.base_url into scraper.page_count listing pages and pushes
//     them onto an in-memory task queue before any worker starts.
//   - Workers: each worker pops a listing page, expands it into product addresses through its own browsing
//     session (chromedp by default, colly for plain HTTP), extracts one record per product and pushes it to
//     the result queue. A worker stops once the queue stays empty for scraper.pop_timeout.
//   - Supervision: the supervisor polls the pool every scraper.poll_interval and replaces stopped workers
//     according to scraper.restart_policy. A worker that faults loses only its in-flight page.
//   - Persistence: when no worker is left alive the results are drained and written once to
//     output.destination (local file, gs://bucket/object or a Postgres DSN). A run summary is published to
//     Pub/Sub when pubsub.project_id and pubsub.topic_name are set.
//
// Quick checklist:
//   - Configure env vars: SCRAPER_SCRAPER_WORKER_COUNT (or NUM_PROCESSES), SCRAPER_FETCH_HEADLESS_MODE (or
//     HEADLESS), SCRAPER_OUTPUT_DESTINATION (or OUTPUT_FILE), SCRAPER_METRICS_LISTEN_ADDR to expose /metrics.
//   - Run locally: scraper run --config config.yaml
package cmd
