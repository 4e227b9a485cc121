/*
Package log provides structured logging for loom using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("injector")                │          │
	│  │  - WithFactoryID("cache.v1")                │          │
	│  │  - WithItemKey("config")                    │          │
	│  │  - WithWorkerID("w-7f3c")                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  JSON:    {"level":"info","component":      │          │
	│  │            "injector","factory_id":"cache", │          │
	│  │            "message":"child started"}       │          │
	│  │  Console: 10:30AM INF child started         │          │
	│  │            component=injector factory=cache │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Log levels

Debug messages record every lifecycle event the injector emits
(factory_added, item_pushed, child_started, child_stopped, ...), discarded
cast replies, and, for a worker with tracing on, each dispatched message;
Warn marks operation failures (spawn_failed, rpc_failed). The injector and
host packages log nothing at Info, Error or Fatal.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("injector")
	logger.Info().Str("factory_id", f.ID).Msg("factory_added")
*/
package log
