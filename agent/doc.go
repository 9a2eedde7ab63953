/*
Package agent implements the agent execution collaborator used by the step
runner: an opaque text-in, text-out call against an OpenAI-compatible chat
completions endpoint.

# Overview

Executor sends the step's system prompt and its input as a two-message chat
and returns the assistant text. Calls go through a hardened TLS client
(internal/tlsutil), an optional rate.Limiter, an OpenTelemetry span and the
Prometheus collector.

# Token budget

TokenCounter counts prompt tokens with tiktoken, falling back to a
four-characters-per-token estimate when the encoding is unavailable.
Inputs above the budget fail the step with a validation error instead of
being sent upstream.

# Errors

Upstream failures surface as types.ErrExternalService. 429 and 5xx
responses are marked retryable; other 4xx are not.
*/
package agent
