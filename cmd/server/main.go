// Package main implements the entry point for the readings engine server:
// the HTTP job boundary plus the embedded task workers and lease reclaimer.
package main

import (
	"log"
)

func main() {
	app, err := newApplication()
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("application exited with error: %v", err)
	}
}
