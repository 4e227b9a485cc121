/*
Package metrics provides Prometheus metrics collection and exposition for the
loom engine.

The metrics package defines and registers all engine metrics using the
Prometheus client library, giving observability into the Injector's internal
state (factory count, item counts, active entry count), matching latency, and
worker lifecycle/RPC outcomes. Metrics are exposed via an HTTP endpoint for
scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Injector: factories, items, active entries │          │
	│  │  Matcher: match duration                    │          │
	│  │  Worker Host: spawn/stop, handshake, RPC    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Handler: metrics.Handler()               │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Gauge Metrics:
  - Instant values: FactoriesTotal, ItemsTotal, ActiveEntriesTotal
  - Updated directly by the Injector's event loop after each state change

Counter Metrics:
  - Monotonic totals: WorkersSpawnedTotal, WorkersSpawnFailedTotal,
    WorkersStoppedTotal, ItemsRevokedTotal, RPCFailedTotal

Histogram Metrics:
  - Distributions: MatchDuration, SpawnHandshakeDuration, RPCDuration

Timer:
  - Small helper wrapping time.Now()/time.Since() for observing the above
    histograms without repeating the boilerplate at every call site.

# Usage

	t := metrics.NewTimer()
	candidates := matcher.Candidates(factory.Requires, table)
	t.ObserveDuration(metrics.MatchDuration)

The injector and host packages call directly into this package; callers of
loom do not need to import it unless they want to serve /metrics themselves
via metrics.Handler().
*/
package metrics
