// Package main is the CLI entry point for the classpilot conversation
// gateway.
//
// classpilot fronts an LLM agent for teachers on a school platform: it
// streams conversation turns over SSE, executes data, analysis and
// content generation tools, and versions every generated artifact.
//
// Start the server:
//
//	classpilot serve --config classpilot.yaml
//
// Configuration comes from the YAML file with environment variable
// overrides; see the config package for the full list. The keys most
// deployments set:
//
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: model provider credentials
//   - AUTH_SECRET: HMAC secret for teacher bearer tokens
//   - EXTERNAL_DATA_BASE_URL: school platform data API
//   - CONVERSATION_STORE_TYPE: "memory" or "remote-kv" (with REDIS_URL)
//   - ARTIFACT_STORE_URL: sqlite path or "memory"
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
