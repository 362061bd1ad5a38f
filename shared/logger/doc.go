// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for Yukpo backend components.

# Overview

The logger package outputs single-line JSON to stdout, making logs easily
consumable by Docker log drivers and log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, search, billing, etc.)
  - Instance ID and container name
  - User ID (for per-user correlation)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("orchestrator")

Log messages with user and request context:

	log.Info("user-42", "req-456", "Pipeline stage complete", map[string]interface{}{
	    "stage": "intent_detection",
	})

Log per-stage timings:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("user-42", "req-456", "Provider call complete",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - LOG_LEVEL: minimum level to emit (default INFO)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
