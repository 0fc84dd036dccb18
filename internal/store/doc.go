// Package store defines interfaces for job and task persistence.
// These interfaces abstract the underlying data storage mechanism from
// the orchestration logic, allowing the worker loop, cascade, and
// reclaimer to remain independent of specific database technologies.
package store
