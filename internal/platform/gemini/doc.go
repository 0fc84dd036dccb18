// Package gemini implements the generation.TextGenerator interface using
// Google's Gemini API. It performs single-shot calls: retry bookkeeping
// belongs to the task layer and pacing/backoff to the call limiter, so the
// client itself never sleeps or loops.
package gemini
