// Package mediaapi implements the generation.MediaRenderer interface over
// the HTTP media rendering API used by the downstream pipeline stages
// (document, audio narration, song). Overload responses surface their
// status code and retry-after hint in the error message so the call
// limiter's detection sees them.
package mediaapi
