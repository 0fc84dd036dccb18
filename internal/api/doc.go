// Package api implements the HTTP boundary of the pipeline: job submission
// and the non-blocking job status read. Internal error detail (database
// error codes, file paths, SQL) never leaves the process; errors are mapped
// to short user-safe messages and the detail is logged server-side only,
// after redaction.
package api
