// Package events provides types and interfaces for loosely coupled
// completion notifications. The task runner emits an event when a job
// reaches a terminal aggregate state; notification delivery is
// at-least-once, so handlers must tolerate replays.
package events
