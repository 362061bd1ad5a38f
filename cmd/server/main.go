// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the Yukpo API server.
//
// The server fronts the AI orchestration pipeline (intent detection,
// model pool, semantic cache, schema validation, business routing),
// the native PostgreSQL search engine and the service marketplace CRUD.
//
// Usage:
//
//	./server
//
// Environment Variables:
//
//	HTTP_ADDR - listen address (default: :8000)
//	DATABASE_URL - PostgreSQL connection string (required)
//	JWT_SECRET - token signing secret (required)
//	REDIS_URL - Redis connection string (optional)
//	MONGO_URL - MongoDB connection string for interaction history (optional)
//	MEDIA_BUCKET - S3 bucket for decoded uploads (optional)
//	SEARCH_CONFIG_PATH - YAML search tuning file (optional)
package main

import (
	"fmt"
	"os"

	"github.com/Her50/yukpomnang-sub000/server"
)

func main() {
	if err := server.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}
