// Package model defines the provider-agnostic contract for text generation
// used by the AI request gateway.
//
// Core goals:
//   - A single blocking Complete call returning text or an error
//   - Transport timeouts (connect/write/read) shared by every provider
//   - Lightweight mocking for tests (MockCompleter)
//
// Providers (e.g. OpenAI-compatible endpoints such as OpenRouter, Anthropic)
// implement Completer so higher layers stay decoupled from vendor SDKs.
package model
