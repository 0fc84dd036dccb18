// Package task runs the claim-execute-report loop of the pipeline.
// Workers poll the task store for pending work, dispatch by task type to
// stage-specific handlers, heartbeat while the work runs, and report
// success or failure back to the store. The reclaimer sweep returns tasks
// whose worker stopped heartbeating to the pending pool. There is no
// central scheduler: coordination happens entirely through the store's
// atomic claim.
package task
