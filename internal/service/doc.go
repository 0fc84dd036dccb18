// Package service contains the application services that sit between the
// HTTP layer and the stores: job submission (seeding the source stage) and
// the non-blocking job status read.
package service
